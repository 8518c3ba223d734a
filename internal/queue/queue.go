// Package queue implements bounded message queues: a ring buffer with
// bidirectional FIFO wait lists, ISR-safe non-blocking variants, and
// an optional notification hook.
//
// A waiter woken by the complementary operation retries its own
// operation exactly once under the critical section it re-acquires on
// resume, rather than having payloads copied through the wait-list
// entries on its behalf; the retry's outcome decides OK vs TIMEOUT.
package queue

import (
	"errors"

	"flexkernel/internal/heap"
	"flexkernel/internal/kernellog"
	"flexkernel/internal/sched"
	"flexkernel/internal/task"
)

// Status is the queue operation result.
type Status int

const (
	OK Status = iota
	FULL
	EMPTY
	ERROR
	TIMEOUT
)

func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case FULL:
		return "FULL"
	case EMPTY:
		return "EMPTY"
	case ERROR:
		return "ERROR"
	case TIMEOUT:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// NotifyKind selects which mutating event a notification hook fires on.
// OnSend/OnReceive fire on every successful transfer; OnFull/OnEmpty
// fire when the transfer transitions the queue to full or empty.
type NotifyKind int

const (
	OnSend NotifyKind = iota
	OnReceive
	OnFull
	OnEmpty
)

// NotifyFunc is invoked synchronously inside the critical section; it
// must not call any blocking primitive.
type NotifyFunc func(q *Queue, ctx any)

// MaxWaiters bounds each wait list, mirroring a fixed on-target array
// of 32 task ids per side.
const MaxWaiters = 32

type waiter struct {
	id task.ID
}

// Queue is a bounded ring buffer of fixed-size items.
type Queue struct {
	sched *sched.Scheduler
	heap  *heap.Allocator
	name  string

	itemSize int
	capacity int

	buf  heap.Ptr
	data []byte // a.Bytes(buf): the ring storage itself lives in the heap arena

	count int
	head  int
	tail  int

	senderWait   []waiter
	receiverWait []waiter

	overflow  uint64
	underflow uint64

	notifyFn   NotifyFunc
	notifyCtx  any
	notifyKind NotifyKind
	hasNotify  bool

	isrEnabled bool
}

// ErrInvalidArg reports a zero item size or capacity, or arguments
// that fail basic shape checks.
var ErrInvalidArg = errors.New("queue: invalid argument")

// Create builds a queue of capacity fixed-size items. The payload
// buffer is carved from h and the ring reads/writes directly through
// the arena bytes backing that allocation, so the ring's storage
// genuinely lives in the kernel heap rather than a second buffer. An
// exhausted allocator surfaces as an error rather than a sentinel
// pointer.
func Create(s *sched.Scheduler, h *heap.Allocator, name string, itemSize, capacity int) (*Queue, error) {
	if itemSize <= 0 || capacity <= 0 {
		return nil, ErrInvalidArg
	}
	p := h.Alloc(itemSize * capacity)
	if !p.Valid() {
		return nil, heap.ErrOOM
	}
	q := &Queue{
		sched:    s,
		heap:     h,
		name:     name,
		itemSize: itemSize,
		capacity: capacity,
		buf:      p,
		data:     h.Bytes(p),
	}
	kernellog.Debug().Str("queue", name).Int("item_size", itemSize).Int("capacity", capacity).Msg("queue created")
	return q, nil
}

// Delete frees the payload buffer. Wait lists must be empty at
// deletion time; deleting a queue with live waiters is undefined, so
// Delete only flags it via a debug log rather than returning an error.
func (q *Queue) Delete() {
	q.sched.Lock()
	if len(q.senderWait) > 0 || len(q.receiverWait) > 0 {
		kernellog.Debug().Str("queue", q.name).Msg("delete with non-empty wait list")
	}
	q.sched.Unlock()
	q.heap.Free(q.buf)
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) slot(i int) []byte {
	off := i * q.itemSize
	return q.data[off : off+q.itemSize]
}

// Send writes item at the tail, blocking up to timeoutTicks when the
// queue is full. A zero timeout is a non-blocking attempt.
func (q *Queue) Send(item []byte, timeoutTicks uint32) Status {
	return q.send(item, timeoutTicks, false)
}

// SendToFront writes item at the head (logical LIFO insertion at the
// read side), so the next receive observes it first.
func (q *Queue) SendToFront(item []byte, timeoutTicks uint32) Status {
	return q.send(item, timeoutTicks, true)
}

// SendToBack is an alias for Send; both name the same tail-insertion
// path.
func (q *Queue) SendToBack(item []byte, timeoutTicks uint32) Status {
	return q.Send(item, timeoutTicks)
}

func (q *Queue) send(item []byte, timeoutTicks uint32, toFront bool) Status {
	if len(item) != q.itemSize {
		return ERROR
	}
	q.sched.Lock()

	if q.count < q.capacity {
		q.completeSendLocked(item, toFront)
		q.sched.Unlock()
		return OK
	}

	if timeoutTicks == 0 {
		q.overflow++
		q.sched.Unlock()
		return FULL
	}
	if len(q.senderWait) >= MaxWaiters {
		q.sched.Unlock()
		return FULL
	}

	id := q.sched.CurrentTaskIDLocked()
	q.senderWait = append(q.senderWait, waiter{id: id})
	granted := q.sched.BlockCurrent(q, timeoutTicks)
	if !granted {
		q.unlinkSender(id)
		q.sched.Unlock()
		return TIMEOUT
	}

	// Direct handoff retry: a receiver made space and woke us; the
	// critical section is held again here, so this check-and-write is
	// atomic with respect to every other task.
	if q.count < q.capacity {
		q.completeSendLocked(item, toFront)
		q.sched.Unlock()
		return OK
	}
	q.sched.Unlock()
	return TIMEOUT
}

// completeSendLocked performs the ring write plus everything a
// successful task-context send owes the rest of the kernel: wake one
// receiver, fire the notification hook(s), and preempt if the wakeup
// outranked the caller. Caller must hold the critical section and have
// verified space.
func (q *Queue) completeSendLocked(item []byte, toFront bool) {
	q.writeLocked(item, toFront)
	q.wakeReceiverLocked()
	q.notifyLocked(OnSend)
	if q.count == q.capacity {
		q.notifyLocked(OnFull)
	}
	q.sched.PreemptLocked()
}

// SendFromISR is the non-blocking ISR-context send: it requires the
// queue to be ISR-enabled, returns FULL immediately on a full queue,
// and never enqueues the caller. A blocked receiver is still woken,
// since resuming a task is ISR-safe.
func (q *Queue) SendFromISR(item []byte) Status {
	if len(item) != q.itemSize {
		return ERROR
	}
	q.sched.Lock()
	defer q.sched.Unlock()

	if !q.isrEnabled {
		return ERROR
	}
	if q.count >= q.capacity {
		q.overflow++
		return FULL
	}
	q.writeLocked(item, false)
	q.wakeReceiverLocked()
	q.notifyLocked(OnSend)
	if q.count == q.capacity {
		q.notifyLocked(OnFull)
	}
	return OK
}

// writeLocked performs the ring write (tail insertion, or head
// insertion when toFront). Caller must hold the critical section.
func (q *Queue) writeLocked(item []byte, toFront bool) {
	if toFront {
		q.head = (q.head - 1 + q.capacity) % q.capacity
		copy(q.slot(q.head), item)
	} else {
		copy(q.slot(q.tail), item)
		q.tail = (q.tail + 1) % q.capacity
	}
	q.count++
}

// wakeReceiverLocked pops and resumes the head receiver waiter, if any.
func (q *Queue) wakeReceiverLocked() {
	if len(q.receiverWait) == 0 {
		return
	}
	w := q.receiverWait[0]
	q.receiverWait = q.receiverWait[1:]
	q.sched.ResumeLocked(w.id)
}

func (q *Queue) wakeSenderLocked() {
	if len(q.senderWait) == 0 {
		return
	}
	w := q.senderWait[0]
	q.senderWait = q.senderWait[1:]
	q.sched.ResumeLocked(w.id)
}

func (q *Queue) unlinkSender(id task.ID) {
	for i, w := range q.senderWait {
		if w.id == id {
			q.senderWait = append(q.senderWait[:i], q.senderWait[i+1:]...)
			return
		}
	}
}

func (q *Queue) unlinkReceiver(id task.ID) {
	for i, w := range q.receiverWait {
		if w.id == id {
			q.receiverWait = append(q.receiverWait[:i], q.receiverWait[i+1:]...)
			return
		}
	}
}

// Receive reads the head item into out, blocking up to timeoutTicks
// when the queue is empty. A zero timeout is a non-blocking attempt.
func (q *Queue) Receive(out []byte, timeoutTicks uint32) Status {
	if len(out) != q.itemSize {
		return ERROR
	}
	q.sched.Lock()

	if q.count > 0 {
		q.completeReceiveLocked(out)
		q.sched.Unlock()
		return OK
	}

	if timeoutTicks == 0 {
		q.underflow++
		q.sched.Unlock()
		return EMPTY
	}
	if len(q.receiverWait) >= MaxWaiters {
		q.sched.Unlock()
		return EMPTY
	}

	id := q.sched.CurrentTaskIDLocked()
	q.receiverWait = append(q.receiverWait, waiter{id: id})
	granted := q.sched.BlockCurrent(q, timeoutTicks)
	if !granted {
		q.unlinkReceiver(id)
		q.sched.Unlock()
		return TIMEOUT
	}

	if q.count > 0 {
		q.completeReceiveLocked(out)
		q.sched.Unlock()
		return OK
	}
	q.sched.Unlock()
	return TIMEOUT
}

// completeReceiveLocked mirrors completeSendLocked for the read side.
func (q *Queue) completeReceiveLocked(out []byte) {
	q.readLocked(out)
	q.wakeSenderLocked()
	q.notifyLocked(OnReceive)
	if q.count == 0 {
		q.notifyLocked(OnEmpty)
	}
	q.sched.PreemptLocked()
}

// ReceiveFromISR is the non-blocking ISR-context receive, mirroring
// SendFromISR.
func (q *Queue) ReceiveFromISR(out []byte) Status {
	if len(out) != q.itemSize {
		return ERROR
	}
	q.sched.Lock()
	defer q.sched.Unlock()

	if !q.isrEnabled {
		return ERROR
	}
	if q.count == 0 {
		q.underflow++
		return EMPTY
	}
	q.readLocked(out)
	q.wakeSenderLocked()
	q.notifyLocked(OnReceive)
	if q.count == 0 {
		q.notifyLocked(OnEmpty)
	}
	return OK
}

func (q *Queue) readLocked(out []byte) {
	copy(out, q.slot(q.head))
	q.head = (q.head + 1) % q.capacity
	q.count--
}

// Peek reads the head item into out without consuming it.
func (q *Queue) Peek(out []byte) Status {
	if len(out) != q.itemSize {
		return ERROR
	}
	q.sched.Lock()
	defer q.sched.Unlock()
	if q.count == 0 {
		return EMPTY
	}
	copy(out, q.slot(q.head))
	return OK
}

// Overwrite behaves as a non-blocking send when not full; when full,
// it drops the oldest item and writes the new one in its place,
// incrementing the overflow counter and leaving count at capacity.
// Both paths fire the OnSend hook; overwriting an already-full queue
// is not a full transition, so OnFull does not re-fire.
func (q *Queue) Overwrite(item []byte) Status {
	if len(item) != q.itemSize {
		return ERROR
	}
	q.sched.Lock()
	defer q.sched.Unlock()

	if q.count < q.capacity {
		q.completeSendLocked(item, false)
		return OK
	}

	q.head = (q.head + 1) % q.capacity
	q.tail = (q.tail + 1) % q.capacity
	copy(q.slot((q.tail-1+q.capacity)%q.capacity), item)
	q.overflow++
	q.notifyLocked(OnSend)
	q.sched.PreemptLocked()
	return OK
}

// Reset zeroes the ring indices, wait lists, and counters. Pending
// waiters are silently forgotten - they will see a timeout when their
// own tick countdown expires.
func (q *Queue) Reset() {
	q.sched.Lock()
	defer q.sched.Unlock()
	q.head, q.tail, q.count = 0, 0, 0
	q.senderWait = nil
	q.receiverWait = nil
	q.overflow, q.underflow = 0, 0
}

func (q *Queue) IsFull() bool {
	q.sched.Lock()
	defer q.sched.Unlock()
	return q.count == q.capacity
}

func (q *Queue) IsEmpty() bool {
	q.sched.Lock()
	defer q.sched.Unlock()
	return q.count == 0
}

func (q *Queue) Count() int {
	q.sched.Lock()
	defer q.sched.Unlock()
	return q.count
}

func (q *Queue) SpaceAvailable() int {
	q.sched.Lock()
	defer q.sched.Unlock()
	return q.capacity - q.count
}

func (q *Queue) Overflow() uint64 {
	q.sched.Lock()
	defer q.sched.Unlock()
	return q.overflow
}

func (q *Queue) Underflow() uint64 {
	q.sched.Lock()
	defer q.sched.Unlock()
	return q.underflow
}

// SetNotification installs fn as the hook invoked on events of the
// given kind, replacing any previous hook. A nil fn clears it.
func (q *Queue) SetNotification(fn NotifyFunc, ctx any, kind NotifyKind) {
	q.sched.Lock()
	defer q.sched.Unlock()
	q.notifyFn, q.notifyCtx, q.notifyKind, q.hasNotify = fn, ctx, kind, fn != nil
}

// SetISREnabled gates the from-ISR variants.
func (q *Queue) SetISREnabled(enabled bool) {
	q.sched.Lock()
	defer q.sched.Unlock()
	q.isrEnabled = enabled
}

// notifyLocked invokes the configured hook synchronously if kind
// matches. Caller must hold the critical section.
func (q *Queue) notifyLocked(kind NotifyKind) {
	if q.hasNotify && q.notifyKind == kind {
		q.notifyFn(q, q.notifyCtx)
	}
}
