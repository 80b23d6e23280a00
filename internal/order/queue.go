package order

import "context"

// Submission is a request addressed to one account. A positive CancelAfter
// asks the driver to cancel the order that many candles after acceptance.
type Submission struct {
	AccountID   string
	Request     *Request
	CancelAfter int
}

// Queue buffers submissions before execution.
type Queue struct {
	ch chan Submission
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 100
	}
	return &Queue{ch: make(chan Submission, size)}
}

func (q *Queue) Enqueue(s Submission) {
	q.ch <- s
}

func (q *Queue) Len() int {
	return len(q.ch)
}

func (q *Queue) Close() {
	close(q.ch)
}

// DrainPending hands every submission already buffered to handler and returns
// without waiting for more. It stops early on the first handler error or when
// ctx is done.
func (q *Queue) DrainPending(ctx context.Context, handler func(Submission) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-q.ch:
			if !ok {
				return nil
			}
			if err := handler(s); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}
