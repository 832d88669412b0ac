package agentrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/vesys/ve/internal/common/logger"
)

// RequestHandler handles incoming control requests. It receives the request
// ID and should answer via SendControlResponse.
type RequestHandler func(requestID string, req *ControlRequest)

// MessageHandler receives every non-control message on the stream.
type MessageHandler func(msg *StreamMessage)

// Client speaks the stream-json protocol over an agent subprocess's
// stdin/stdout. It reads newline-delimited JSON from stdout and writes
// prompts and control responses to stdin.
type Client struct {
	stdin  io.Writer
	stdout io.Reader
	logger *logger.Logger

	requestHandler RequestHandler
	messageHandler MessageHandler

	mu   sync.RWMutex
	done chan struct{}
}

// NewClient creates a client over the given pipes.
func NewClient(stdin io.Writer, stdout io.Reader, log *logger.Logger) *Client {
	return &Client{
		stdin:  stdin,
		stdout: stdout,
		logger: log.WithFields(zap.String("component", "agentrpc-client")),
		done:   make(chan struct{}),
	}
}

// SetRequestHandler sets the handler for incoming control requests.
func (c *Client) SetRequestHandler(handler RequestHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestHandler = handler
}

// SetMessageHandler sets the handler for streaming messages.
func (c *Client) SetMessageHandler(handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messageHandler = handler
}

// Start begins reading stdout in a goroutine. The returned channel closes
// when the read loop has drained stdout (subprocess exit).
func (c *Client) Start(ctx context.Context) <-chan struct{} {
	finished := make(chan struct{})
	go c.readLoop(ctx, finished)
	return finished
}

// Stop stops the read loop.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

// SendControlResponse answers a control request.
func (c *Client) SendControlResponse(resp *ControlResponseMessage) error {
	return c.send(resp)
}

// SendUserMessage delivers a prompt to the agent.
func (c *Client) SendUserMessage(content string) error {
	return c.send(&UserMessage{
		Type: MessageTypeUser,
		Message: UserMessageBody{
			Role:    "user",
			Content: content,
		},
	})
}

func (c *Client) send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	data = append(data, '\n')
	if _, err := c.stdin.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context, finished chan<- struct{}) {
	defer close(finished)

	scanner := bufio.NewScanner(c.stdout)
	// agent messages can carry whole file contents
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		c.handleLine(append([]byte(nil), line...))
	}

	if err := scanner.Err(); err != nil {
		c.logger.Error("Agent stream read error", zap.Error(err))
	}
}

func (c *Client) handleLine(line []byte) {
	var msg StreamMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		c.logger.Warn("Failed to parse agent message", zap.Error(err), zap.String("line", string(line)))
		return
	}

	if msg.Type == MessageTypeControlRequest && msg.Request != nil {
		c.handleControlRequest(msg.RequestID, msg.Request)
		return
	}

	c.mu.RLock()
	handler := c.messageHandler
	c.mu.RUnlock()
	if handler != nil {
		msg.RawContent = line
		handler(&msg)
	}
}

func (c *Client) handleControlRequest(requestID string, req *ControlRequest) {
	c.mu.RLock()
	handler := c.requestHandler
	c.mu.RUnlock()

	if handler == nil {
		c.logger.Warn("Control request with no handler registered",
			zap.String("request_id", requestID),
			zap.String("subtype", req.Subtype))
		if err := c.SendControlResponse(&ControlResponseMessage{
			Type:      MessageTypeControlResponse,
			RequestID: requestID,
			Response: &ControlResponse{
				Subtype: "error",
				Error:   "no handler registered",
			},
		}); err != nil {
			c.logger.Warn("Failed to send error response", zap.Error(err))
		}
		return
	}
	handler(requestID, req)
}
