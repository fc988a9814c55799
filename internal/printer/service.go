// Package printer is the entry point for network receipt printer operations.
// Every operation validates its arguments synchronously and then runs on a
// worker pool, delivering exactly one Result on the returned channel.
package printer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/thereceipt/escpos-bridge/internal/config"
	"github.com/thereceipt/escpos-bridge/internal/discovery"
	"github.com/thereceipt/escpos-bridge/internal/escpos"
	"github.com/thereceipt/escpos-bridge/internal/raster"
	"github.com/thereceipt/escpos-bridge/internal/transport"
	"github.com/thereceipt/escpos-bridge/internal/workerpool"
)

// Service runs printer operations
type Service struct {
	cfg     config.PrinterConfig
	pool    *workerpool.Pool
	dialer  transport.Dialer
	client  *transport.Client
	images  *raster.Preprocessor
	sweeper *discovery.Sweeper
	logger  *zap.Logger
}

// Option customises a Service
type Option func(*Service)

// WithPool runs operations on pool instead of workerpool.Default()
func WithPool(pool *workerpool.Pool) Option {
	return func(s *Service) {
		s.pool = pool
	}
}

// WithDialer replaces the network dialer used for every connection
func WithDialer(dialer transport.Dialer) Option {
	return func(s *Service) {
		s.dialer = dialer
	}
}

// NewService creates a service. A nil cfg uses the built-in defaults.
func NewService(cfg *config.PrinterConfig, logger *zap.Logger, opts ...Option) *Service {
	if cfg == nil {
		cfg = &config.Default().Printer
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		cfg:    *cfg,
		logger: logger,
		images: raster.NewPreprocessor(cfg.MaxPrintWidth),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.pool == nil {
		s.pool = workerpool.Default()
	}

	s.client = transport.NewClient(s.dialer, logger.Named("transport"))
	s.sweeper = discovery.NewSweeper(s.probe, cfg.ScanConcurrency, logger.Named("discovery"))
	return s
}

func (s *Service) probe(ctx context.Context, ep transport.Endpoint) error {
	return s.client.Probe(ctx, ep, s.cfg.ProbeTimeout)
}

func (s *Service) params(ep transport.Endpoint) transport.Params {
	return transport.Params{
		Endpoint:       ep,
		ConnectTimeout: s.cfg.ConnectTimeout,
		WriteTimeout:   s.cfg.WriteTimeout,
	}
}

// TestConnection opens and closes a connection to the printer
func (s *Service) TestConnection(ctx context.Context, o Options) (<-chan Result, error) {
	ep, err := s.endpoint(o)
	if err != nil {
		return nil, err
	}

	return s.dispatch(ctx, "testConnection", func(ctx context.Context) Result {
		if err := s.client.Probe(ctx, ep, s.cfg.ConnectTimeout); err != nil {
			return fromTransport(err, prefixConnect)
		}
		return succeeded(msgConnected)
	})
}

// Print sends Data to the printer unmodified, or transcoded and prefixed
// with a code table selection when Codepage is set.
func (s *Service) Print(ctx context.Context, o Options) (<-chan Result, error) {
	ep, err := s.endpoint(o)
	if err != nil {
		return nil, err
	}
	payload, err := text(o)
	if err != nil {
		return nil, err
	}

	return s.dispatch(ctx, "print", func(ctx context.Context) Result {
		return s.send(ctx, ep, payload, prefixPrint, msgPrinted)
	})
}

// PrintWithImage prints a centered logo followed by Data. An image that
// cannot be decoded is dropped and the text is printed alone.
func (s *Service) PrintWithImage(ctx context.Context, o Options) (<-chan Result, error) {
	if o.ImageBase64 == "" {
		return s.Print(ctx, o)
	}

	ep, err := s.endpoint(o)
	if err != nil {
		return nil, err
	}
	body, err := text(o)
	if err != nil {
		return nil, err
	}

	return s.dispatch(ctx, "printWithImage", func(ctx context.Context) Result {
		var logo *escpos.Bitmap
		bitmap, err := s.images.FromBase64(o.ImageBase64)
		if err != nil {
			s.logger.Warn("image discarded, printing text only",
				zap.String("endpoint", ep.String()),
				zap.Error(err),
			)
		} else {
			logo = &bitmap
		}

		return s.send(ctx, ep, escpos.LogoReceipt(logo, body), prefixPrint, msgPrinted)
	})
}

// OpenDrawer sends the drawer kick pulse for drawer #1
func (s *Service) OpenDrawer(ctx context.Context, o Options) (<-chan Result, error) {
	ep, err := s.endpoint(o)
	if err != nil {
		return nil, err
	}

	return s.dispatch(ctx, "openDrawer", func(ctx context.Context) Result {
		return s.send(ctx, ep, escpos.DrawerKick(), prefixDrawer, msgDrawerOpened)
	})
}

// Autodetect returns the lowest-numbered host in the range accepting
// connections on the port.
func (s *Service) Autodetect(ctx context.Context, o AutodetectOptions) (<-chan Result, error) {
	r, err := s.scanRange(o)
	if err != nil {
		return nil, err
	}

	return s.dispatch(ctx, "autodetect", func(ctx context.Context) Result {
		ep, err := s.sweeper.Find(ctx, r)
		switch {
		case err == nil:
			res := succeeded(fmt.Sprintf(msgFound, ep.Host, ep.Port))
			res.IP = ep.Host
			res.Port = ep.Port
			return res
		case errors.Is(err, discovery.ErrNoPrinterFound):
			return failed(KindNoPrinterFound, fmt.Sprintf(msgNotFound, r.BaseNetwork, r.Start, r.End))
		default:
			return failed(KindUnknown, err.Error())
		}
	})
}

func (s *Service) send(ctx context.Context, ep transport.Endpoint, payload []byte, prefix, message string) Result {
	if err := s.client.Send(ctx, s.params(ep), payload); err != nil {
		return fromTransport(err, prefix)
	}
	return succeeded(message)
}

// dispatch runs task on the pool. The returned channel yields one Result
// and is then closed. A panicking task completes with KindUnknown.
func (s *Service) dispatch(ctx context.Context, op string, task func(context.Context) Result) (<-chan Result, error) {
	out := make(chan Result, 1)

	err := s.pool.Submit(func() {
		defer close(out)
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("operation panicked",
					zap.String("operation", op),
					zap.String("panic", fmt.Sprint(r)),
				)
				out <- failed(KindUnknown, fmt.Sprintf("Error inesperado: %v", r))
			}
		}()

		res := task(ctx)
		s.logger.Debug("operation finished",
			zap.String("operation", op),
			zap.Bool("success", res.Success),
			zap.String("error_kind", string(res.ErrorKind)),
		)
		out <- res
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}
