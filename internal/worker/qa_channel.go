package worker

import "context"

// Question is a clarification request from a running worker.
type Question struct {
	Subject    string
	Content    string
	responseCh chan Answer
}

// Answer is the reply to a Question.
type Answer struct {
	Content string
	Error   error
}

// AnswerFunc answers a question, from project state or from the operator.
type AnswerFunc func(ctx context.Context, subject, question string) (string, error)

// QAChannel serializes clarification questions from concurrent workers onto
// a single answering goroutine, so the operator is asked one thing at a time.
type QAChannel struct {
	questionCh chan Question
	answerFn   AnswerFunc
	done       chan struct{}
}

// NewQAChannel creates a channel. bufferSize should cover the largest team.
func NewQAChannel(bufferSize int, answerFn AnswerFunc) *QAChannel {
	return &QAChannel{
		questionCh: make(chan Question, bufferSize),
		answerFn:   answerFn,
		done:       make(chan struct{}),
	}
}

// Start launches the answering goroutine; it runs until ctx is cancelled.
func (qac *QAChannel) Start(ctx context.Context) {
	go qac.handleQuestions(ctx)
}

func (qac *QAChannel) handleQuestions(ctx context.Context) {
	defer close(qac.done)

	for {
		select {
		case <-ctx.Done():
			return
		case q := <-qac.questionCh:
			// Answer the question
			content, err := qac.answerFn(ctx, q.Subject, q.Content)
			if ctx.Err() != nil {
				// Cancelled while answering
				q.responseCh <- Answer{Error: ctx.Err()}
				return
			}
			q.responseCh <- Answer{Content: content, Error: err}
		}
	}
}

// Ask queues a question and waits for its answer.
func (qac *QAChannel) Ask(ctx context.Context, subject, question string) (string, error) {
	// Buffered so the handler never blocks on a gone asker
	responseCh := make(chan Answer, 1)
	q := Question{Subject: subject, Content: question, responseCh: responseCh}

	// Send question (or cancel)
	select {
	case qac.questionCh <- q:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	// Wait for answer (or cancel)
	select {
	case answer := <-responseCh:
		if answer.Error != nil {
			return "", answer.Error
		}
		return answer.Content, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Stop blocks until the answering goroutine has exited.
func (qac *QAChannel) Stop() {
	<-qac.done
}
