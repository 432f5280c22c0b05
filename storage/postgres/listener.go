package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/c0deZ3R0/listsync/store"
)

// listener turns NOTIFY payloads from other store instances into external
// change events. Payloads carry the committing instance id; our own are
// skipped. A reconnect may have missed notifications, so it also counts as
// an external change.
type listener struct {
	s  *Store
	pl *pq.Listener

	done chan struct{}
	wg   sync.WaitGroup
}

func newListener(ctx context.Context, s *Store) (*listener, error) {
	l := &listener{s: s, done: make(chan struct{})}
	l.pl = pq.NewListener(
		s.config.ConnectionString,
		s.config.MinReconnectInterval,
		s.config.MaxReconnectInterval,
		l.eventCallback,
	)
	if err := l.pl.Listen(s.config.Channel); err != nil {
		l.pl.Close()
		return nil, fmt.Errorf("listen on %s: %w", s.config.Channel, err)
	}
	s.logger.DebugContext(ctx, "Listening for changes", slog.String("channel", s.config.Channel))

	l.wg.Add(1)
	go l.loop()
	return l, nil
}

// eventCallback handles pq.Listener connection events
func (l *listener) eventCallback(event pq.ListenerEventType, err error) {
	switch event {
	case pq.ListenerEventConnected:
		l.s.logger.Debug("Connected to PostgreSQL for LISTEN/NOTIFY")
	case pq.ListenerEventDisconnected:
		l.s.logger.Warn("Disconnected from PostgreSQL", slog.Any("error", err))
	case pq.ListenerEventReconnected:
		l.s.logger.Info("Reconnected to PostgreSQL")
	case pq.ListenerEventConnectionAttemptFailed:
		l.s.logger.Warn("Connection attempt failed", slog.Any("error", err))
	}
}

func (l *listener) loop() {
	defer l.wg.Done()

	ping := time.NewTicker(l.s.config.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-l.done:
			return
		case n, ok := <-l.pl.Notify:
			if !ok {
				return
			}
			l.handle(n)
		case <-ping.C:
			go func() {
				if err := l.pl.Ping(); err != nil {
					l.s.logger.Debug("Ping failed", slog.Any("error", err))
				}
			}()
		}
	}
}

func (l *listener) handle(n *pq.Notification) {
	// pq sends nil after re-establishing the connection.
	if n == nil {
		l.s.Notify(store.OriginExternal)
		return
	}
	if n.Extra == l.s.instance {
		return
	}
	l.s.logger.Debug("Received change notification",
		slog.String("channel", n.Channel),
		slog.String("from", n.Extra),
	)
	l.s.Notify(store.OriginExternal)
}

func (l *listener) close() error {
	close(l.done)
	err := l.pl.Close()
	l.wg.Wait()
	return err
}
