package executor

// IncomingQueue is the multi-producer, single-consumer channel that feeds
// the executor (spec.md §5): any number of API request handlers and the
// deposit ingestor may enqueue; the executor is the sole receiver.
// Grounded on the teacher's mempool (pkg/app/core/mempool/mempool.go),
// generalized from a raw-bytes classify-and-bucket queue to a typed
// channel of Request, since the executor's ordering guarantee (spec.md
// §5: "strict FIFO order of arrival") is exactly what a single buffered
// channel already gives for free.
type IncomingQueue struct {
	ch chan Request
}

// NewIncomingQueue creates a queue with the given buffer capacity.
func NewIncomingQueue(capacity int) *IncomingQueue {
	return &IncomingQueue{ch: make(chan Request, capacity)}
}

// Enqueue submits a request. Blocks if the queue is full, applying
// backpressure to producers rather than dropping requests.
func (q *IncomingQueue) Enqueue(r Request) {
	q.ch <- r
}

// Dequeue is used only by the executor's run loop.
func (q *IncomingQueue) Dequeue() <-chan Request {
	return q.ch
}

// Close stops the queue, letting the executor's Run loop drain whatever is
// already buffered and then return. Called once, by cmd/coordinator on
// shutdown; enqueueing after Close panics, same as sending on any closed
// channel.
func (q *IncomingQueue) Close() {
	close(q.ch)
}
