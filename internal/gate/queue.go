package gate

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/gatekeeper/helpers"
	"github.com/temoto/gatekeeper/internal/config"
	"github.com/temoto/gatekeeper/log2"
	"github.com/temoto/spq"
)

// denote value kind in persistent queue bytes form
const qTrigger byte = 1

// QueuedTrigger is one spooled activation: who asked, where it was
// aimed, when. Wire form is the tag byte, two length-prefixed strings
// and big endian unix nanoseconds.
type QueuedTrigger struct {
	CorrelationID string
	Target        string
	At            time.Time
}

func (qt *QueuedTrigger) MarshalBinary() ([]byte, error) {
	if len(qt.CorrelationID) > math.MaxUint16 || len(qt.Target) > math.MaxUint16 {
		return nil, errors.NotValidf("spool entry too long")
	}
	b := make([]byte, 0, 1+2+len(qt.CorrelationID)+2+len(qt.Target)+8)
	b = append(b, qTrigger)
	b = appendString16(b, qt.CorrelationID)
	b = appendString16(b, qt.Target)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(qt.At.UnixNano()))
	return append(b, ts[:]...), nil
}

func (qt *QueuedTrigger) UnmarshalBinary(b []byte) error {
	if len(b) == 0 {
		return errors.NotValidf("spool entry empty")
	}
	if b[0] != qTrigger {
		return errors.NotValidf("spool entry kind=%d", b[0])
	}
	rest := b[1:]
	var err error
	if qt.CorrelationID, rest, err = readString16(rest); err != nil {
		return errors.Annotate(err, "spool entry id")
	}
	if qt.Target, rest, err = readString16(rest); err != nil {
		return errors.Annotate(err, "spool entry target")
	}
	if len(rest) != 8 {
		return errors.NotValidf("spool entry time len=%d", len(rest))
	}
	qt.At = time.Unix(0, int64(binary.BigEndian.Uint64(rest)))
	return nil
}

func appendString16(dst []byte, s string) []byte {
	dst = append(dst, byte(len(s)>>8), byte(len(s)))
	return append(dst, s...)
}

func readString16(b []byte) (string, []byte, error) {
	if len(b) < 2 {
		return "", b, errors.NotValidf("short length prefix")
	}
	n := int(binary.BigEndian.Uint16(b))
	if len(b) < 2+n {
		return "", b, errors.NotValidf("short string want=%d have=%d", n, len(b)-2)
	}
	return string(b[2 : 2+n]), b[2+n:], nil
}

// Spool keeps triggers fired while offline. Backed by spq so entries
// survive process restarts.
type Spool struct {
	q      *spq.Queue
	log    *log2.Log
	maxAge time.Duration
}

func OpenSpool(cfg config.Queue, log *log2.Log) (*Spool, error) {
	q, err := spq.Open(cfg.Path)
	if err != nil {
		return nil, errors.Annotate(err, "gate spool")
	}
	return &Spool{q: q, log: log, maxAge: cfg.MaxAge()}, nil
}

func (s *Spool) Push(qt *QueuedTrigger) error {
	if qt.At.IsZero() {
		qt.At = time.Now()
	}
	return errors.Annotate(s.q.MarshalPush(qt), "gate spool push")
}

func (s *Spool) Close() error { return s.q.Close() }

func (s *Spool) expired(qt *QueuedTrigger) bool {
	return s.maxAge > 0 && time.Since(qt.At) > s.maxAge
}

// qworker drains the spool: one entry at a time, in order, each either
// delivered and deleted or requeued for a later pass.
func (g *Gate) qworker() {
	defer g.alive.Done()
	retry := helpers.Backoff{Min: time.Second, Max: 30 * time.Second, K: 2}
	for {
		box, err := g.spool.q.Peek()
		switch err {
		case nil:
			// success path
		case spq.ErrClosed:
			return
		default:
			g.log.Errorf("CRITICAL gate spool err=%v", err)
			if !g.sleep(retry.Next()) {
				return
			}
			continue
		}

		b := box.Bytes()
		del, err := g.qhandle(b)
		if err != nil {
			g.log.Errorf("gate spool handle b=%x err=%v", b, err)
		}
		if del {
			retry.Reset()
			if err = g.spool.q.Delete(box); err != nil {
				g.log.Errorf("gate spool delete b=%x err=%v", b, err)
			}
		} else {
			if err = g.spool.q.DeletePush(box); err != nil {
				g.log.Errorf("gate spool requeue b=%x err=%v", b, err)
			}
			if !g.sleep(retry.Next()) {
				return
			}
		}
	}
}

// qhandle replays one spooled trigger. del=true removes the entry,
// false sends it back for another pass.
func (g *Gate) qhandle(b []byte) (bool, error) {
	qt := new(QueuedTrigger)
	if err := qt.UnmarshalBinary(b); err != nil {
		// undecodable entries are dropped, retry will not help
		return true, errors.Trace(err)
	}
	g.mu.Lock()
	spool := g.spool
	g.mu.Unlock()
	if spool.expired(qt) {
		g.log.Infof("gate spool expired id=%s age=%s",
			qt.CorrelationID, time.Since(qt.At).Round(time.Second).String())
		return true, nil
	}
	if g.online != nil && !g.online() {
		return false, nil
	}
	err := g.replay(qt.CorrelationID)
	switch {
	case err == nil:
		g.log.Infof("gate spool delivered id=%s age=%s",
			qt.CorrelationID, time.Since(qt.At).Round(time.Second).String())
		return true, nil
	case errors.Cause(err) == ErrBusy:
		// user trigger in flight, defer to it
		return false, nil
	default:
		return false, errors.Annotatef(err, "spool replay id=%s", qt.CorrelationID)
	}
}

func (g *Gate) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return g.alive.IsRunning()
	case <-g.alive.StopChan():
		return false
	}
}
