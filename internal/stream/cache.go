// Package stream implements the streaming session coordinator: the
// Redis-backed accumulation cache, the pub/sub fan-out between producer and
// resumed clients, and the offset-based resume protocol.
package stream

import (
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
)

// Cache key lifetime. A finished stream's accumulated content stays readable
// this long for late resumes; the durable subtask result outlives it.
const accumulatedTTL = 24 * time.Hour

// cancelTTL bounds how long a cancel signal lingers if no producer observes
// it.
const cancelTTL = 5 * time.Minute

// Cache is the streaming cache over a Redis connection pool. The producer is
// the only writer of a subtask's accumulated entry; resume paths only read
// and subscribe.
type Cache struct {
	pool *redis.Pool
}

// NewCache builds a Cache for the Redis server at addr.
func NewCache(addr, password string, db int) *Cache {
	pool := &redis.Pool{
		MaxIdle:     8,
		IdleTimeout: 240 * time.Second,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", addr,
				redis.DialPassword(password),
				redis.DialDatabase(db))
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
	return &Cache{pool: pool}
}

// Close releases the connection pool.
func (c *Cache) Close() error { return c.pool.Close() }

func contentKey(subtaskID int64) string {
	return fmt.Sprintf("switchboard:stream:%d", subtaskID)
}

func channelKey(subtaskID int64) string {
	return fmt.Sprintf("switchboard:stream:chan:%d", subtaskID)
}

func cancelKey(subtaskID int64) string {
	return fmt.Sprintf("switchboard:stream:cancel:%d", subtaskID)
}

// GetAccumulated returns the accumulated content for a subtask, or "" when
// no entry exists.
func (c *Cache) GetAccumulated(subtaskID int64) (string, error) {
	conn := c.pool.Get()
	defer conn.Close()
	s, err := redis.String(conn.Do("GET", contentKey(subtaskID)))
	if err == redis.ErrNil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("stream: get accumulated %d: %w", subtaskID, err)
	}
	return s, nil
}

// AppendChunk appends a chunk to the accumulated entry and refreshes its
// TTL. Producer side only.
func (c *Cache) AppendChunk(subtaskID int64, chunk string) error {
	conn := c.pool.Get()
	defer conn.Close()
	if err := conn.Send("APPEND", contentKey(subtaskID), chunk); err != nil {
		return fmt.Errorf("stream: append %d: %w", subtaskID, err)
	}
	if err := conn.Send("EXPIRE", contentKey(subtaskID), int(accumulatedTTL.Seconds())); err != nil {
		return fmt.Errorf("stream: append %d: %w", subtaskID, err)
	}
	if err := conn.Flush(); err != nil {
		return fmt.Errorf("stream: append %d: %w", subtaskID, err)
	}
	if _, err := conn.Receive(); err != nil {
		return fmt.Errorf("stream: append %d: %w", subtaskID, err)
	}
	return nil
}

// SaveAccumulated replaces the accumulated entry wholesale, used when a
// stream finalizes with authoritative content.
func (c *Cache) SaveAccumulated(subtaskID int64, content string) error {
	conn := c.pool.Get()
	defer conn.Close()
	_, err := conn.Do("SET", contentKey(subtaskID), content, "EX", int(accumulatedTTL.Seconds()))
	if err != nil {
		return fmt.Errorf("stream: save accumulated %d: %w", subtaskID, err)
	}
	return nil
}

// PublishChunk broadcasts a content chunk to every live subscriber of the
// subtask's channel.
func (c *Cache) PublishChunk(subtaskID int64, chunk string) error {
	conn := c.pool.Get()
	defer conn.Close()
	if _, err := conn.Do("PUBLISH", channelKey(subtaskID), chunk); err != nil {
		return fmt.Errorf("stream: publish %d: %w", subtaskID, err)
	}
	return nil
}

// PublishDone broadcasts the structured stream-done marker.
func (c *Cache) PublishDone(subtaskID int64, marker string) error {
	conn := c.pool.Get()
	defer conn.Close()
	if _, err := conn.Do("PUBLISH", channelKey(subtaskID), marker); err != nil {
		return fmt.Errorf("stream: publish done %d: %w", subtaskID, err)
	}
	return nil
}

// SignalCancel sets the cross-process cancel flag for a subtask. Fire and
// forget: the producer may or may not observe it before finishing.
func (c *Cache) SignalCancel(subtaskID int64) error {
	conn := c.pool.Get()
	defer conn.Close()
	_, err := conn.Do("SET", cancelKey(subtaskID), "1", "EX", int(cancelTTL.Seconds()))
	if err != nil {
		return fmt.Errorf("stream: signal cancel %d: %w", subtaskID, err)
	}
	return nil
}

// CancelRequested reports whether a cancel signal is pending for a subtask.
func (c *Cache) CancelRequested(subtaskID int64) (bool, error) {
	conn := c.pool.Get()
	defer conn.Close()
	n, err := redis.Int(conn.Do("EXISTS", cancelKey(subtaskID)))
	if err != nil {
		return false, fmt.Errorf("stream: check cancel %d: %w", subtaskID, err)
	}
	return n > 0, nil
}

// ClearCancel drops the cancel flag after the producer has acted on it.
func (c *Cache) ClearCancel(subtaskID int64) error {
	conn := c.pool.Get()
	defer conn.Close()
	if _, err := conn.Do("DEL", cancelKey(subtaskID)); err != nil {
		return fmt.Errorf("stream: clear cancel %d: %w", subtaskID, err)
	}
	return nil
}

// Subscription is a live pub/sub membership on one subtask's channel.
// Close must run on every exit path of the receive loop.
type Subscription struct {
	psc     redis.PubSubConn
	channel string
}

// Subscribe joins the subtask's channel on a dedicated connection. The
// returned Subscription must be closed by the caller.
func (c *Cache) Subscribe(subtaskID int64) (*Subscription, error) {
	conn := c.pool.Get()
	psc := redis.PubSubConn{Conn: conn}
	ch := channelKey(subtaskID)
	if err := psc.Subscribe(ch); err != nil {
		conn.Close()
		return nil, fmt.Errorf("stream: subscribe %d: %w", subtaskID, err)
	}
	return &Subscription{psc: psc, channel: ch}, nil
}

// errPollTimeout marks an empty poll interval, not a failure.
var errPollTimeout = fmt.Errorf("stream: poll timeout")

// Receive waits up to timeout for the next published payload. Returns
// errPollTimeout when the interval elapses quietly.
func (s *Subscription) Receive(timeout time.Duration) (string, error) {
	for {
		switch v := s.psc.ReceiveWithTimeout(timeout).(type) {
		case redis.Message:
			return string(v.Data), nil
		case redis.Subscription:
			// subscribe/unsubscribe confirmations carry no content
			continue
		case error:
			if isTimeout(v) {
				return "", errPollTimeout
			}
			return "", fmt.Errorf("stream: receive: %w", v)
		}
	}
}

// Close unsubscribes and releases the connection.
func (s *Subscription) Close() error {
	_ = s.psc.Unsubscribe(s.channel)
	return s.psc.Close()
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	if t, ok := err.(timeouter); ok {
		return t.Timeout()
	}
	return false
}
