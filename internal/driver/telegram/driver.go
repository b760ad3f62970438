// Package telegram implements the hubwatch platform driver on gotd/td with
// bot-token authentication.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/gotd/td/session"
	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"

	"hubwatch/pkg/hubwatch"
)

// DriverName is the registered driver name token.
const DriverName = "telegram"

const updateBuffer = 256

// Config configures the Telegram driver.
type Config struct {
	// AppID is the Telegram API application ID.
	AppID int
	// AppHash is the Telegram API application hash.
	AppHash string
	// BotToken authenticates the bot account.
	BotToken string
	// SessionDir stores the MTProto session file.
	SessionDir string
	// Logger receives driver diagnostics; nil selects slog.Default.
	Logger *slog.Logger
}

// Driver runs a gotd bot session and bridges updates into the event sink.
type Driver struct {
	cfg    Config
	logger *slog.Logger

	peers    *PeerCache
	recent   *messageCache
	identity *hubwatch.BotIdentity

	client     *gotdtelegram.Client
	dispatcher *Dispatcher
	updates    chan tg.UpdatesClass

	mu   sync.Mutex
	stop context.CancelFunc
}

// New creates a Telegram driver. The returned driver exposes its outbound
// dispatcher and bot identity for service registration before Start.
func New(cfg Config) (*Driver, error) {
	if cfg.AppID == 0 || cfg.AppHash == "" {
		return nil, fmt.Errorf("new telegram driver: missing app credentials")
	}
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("new telegram driver: missing bot token")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "telegram-driver")

	if cfg.SessionDir != "" {
		if err := os.MkdirAll(cfg.SessionDir, 0o700); err != nil {
			return nil, fmt.Errorf("new telegram driver: create session dir: %w", err)
		}
	}

	driver := &Driver{
		cfg:      cfg,
		logger:   logger,
		peers:    NewPeerCache(),
		recent:   newMessageCache(),
		identity: &hubwatch.BotIdentity{},
		updates:  make(chan tg.UpdatesClass, updateBuffer),
	}

	options := gotdtelegram.Options{
		UpdateHandler: gotdtelegram.UpdateHandlerFunc(driver.handleUpdates),
	}
	if cfg.SessionDir != "" {
		options.SessionStorage = &session.FileStorage{
			Path: filepath.Join(cfg.SessionDir, "session.json"),
		}
	}
	driver.client = gotdtelegram.NewClient(cfg.AppID, cfg.AppHash, options)
	driver.dispatcher = newDispatcher(
		newGotdOutboundRPC(driver.client),
		driver.peers,
		driver.recent,
		driver.identity,
		cfg.Logger,
	)

	return driver, nil
}

// Name identifies the driver.
func (d *Driver) Name() string {
	return DriverName
}

// Outbound returns the dispatcher bound to this driver's session.
func (d *Driver) Outbound() hubwatch.OutboundDispatcher {
	return d.dispatcher
}

// Identity returns the bot identity holder, filled after sign-in.
func (d *Driver) Identity() *hubwatch.BotIdentity {
	return d.identity
}

// handleUpdates receives raw gotd update containers on the client goroutine
// and queues them for decoding.
func (d *Driver) handleUpdates(ctx context.Context, updates tg.UpdatesClass) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case d.updates <- updates:
		return nil
	}
}

// Start runs the bot session and publishes decoded events into sink. It
// blocks until the context is cancelled or the session fails.
func (d *Driver) Start(ctx context.Context, sink hubwatch.EventSink) error {
	if sink == nil {
		return fmt.Errorf("telegram driver start: nil sink")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.stop = cancel
	d.mu.Unlock()
	defer cancel()

	err := d.client.Run(runCtx, func(sessionCtx context.Context) error {
		if err := d.signIn(sessionCtx); err != nil {
			return err
		}

		return d.consume(sessionCtx, sink)
	})
	if err != nil && runCtx.Err() == nil {
		return fmt.Errorf("telegram driver: %w", err)
	}

	return runCtx.Err()
}

// signIn authenticates the bot account if the stored session is not yet
// authorized, then records the bot identity.
func (d *Driver) signIn(ctx context.Context) error {
	status, err := d.client.Auth().Status(ctx)
	if err != nil {
		return fmt.Errorf("auth status: %w", err)
	}
	if !status.Authorized {
		if _, err := d.client.Auth().Bot(ctx, d.cfg.BotToken); err != nil {
			return fmt.Errorf("bot sign-in: %w", err)
		}
	}

	self, err := d.client.Self(ctx)
	if err != nil {
		return fmt.Errorf("fetch self: %w", err)
	}
	d.identity.Set(strconv.FormatInt(self.ID, 10), self.Username)
	d.peers.StoreUser(self)
	d.logger.InfoContext(ctx, "telegram session started", "bot_id", self.ID, "bot_username", self.Username)

	return nil
}

// consume decodes queued updates and publishes the resulting events.
func (d *Driver) consume(ctx context.Context, sink hubwatch.EventSink) error {
	decode := newDecoder(d.peers, d.recent, d.identity)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case updates := <-d.updates:
			for _, envelope := range flattenUpdates(updates) {
				event := decode.Decode(envelope)
				if event == nil {
					continue
				}
				if err := sink.Publish(ctx, event); err != nil {
					d.logger.WarnContext(ctx, "publish event failed",
						"event_kind", event.Kind, "error", err)
				}
			}
		}
	}
}

// Shutdown stops the running session.
func (d *Driver) Shutdown(_ context.Context) error {
	d.mu.Lock()
	stop := d.stop
	d.mu.Unlock()

	if stop != nil {
		stop()
	}

	return nil
}

var _ hubwatch.Driver = (*Driver)(nil)
