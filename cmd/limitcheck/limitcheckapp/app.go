// Package limitcheckapp implements the limitcheck command: it builds a
// channel with the message size filter over an in-memory transport and
// probes a method with synthetic message sizes, reporting the effective
// limits and the per-direction verdicts.
package limitcheckapp

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	flags "github.com/jessevdk/go-flags"

	"github.com/starius/msglimit/internal/transportmock"
	"github.com/starius/msglimit/msgsize"
	"github.com/starius/msglimit/pipeline"
	"github.com/starius/msglimit/serviceconfig"
)

// Config holds limitcheck configuration.
// Tags: flag name, env var, and default value.
type Config struct {
	// MaxSend is the channel-wide cap on outbound message sizes. -1 leaves it unlimited.
	MaxSend int `long:"max-send" env:"LIMITCHECK_MAX_SEND" description:"Channel max outbound message size in bytes (-1 = unlimited)." default:"-1"`

	// MaxRecv is the channel-wide cap on inbound message sizes. -1 keeps the filter default (4 MiB).
	MaxRecv int `long:"max-recv" env:"LIMITCHECK_MAX_RECV" description:"Channel max inbound message size in bytes (-1 = filter default)." default:"-1"`

	// ServiceConfigPath points to a JSON file with per-method overrides.
	ServiceConfigPath string `long:"service-config" env:"LIMITCHECK_SERVICE_CONFIG" description:"Path to a service config JSON file with per-method size overrides."`

	// Method is the full method path the probe call uses.
	Method string `long:"method" env:"LIMITCHECK_METHOD" description:"Full method path to probe." default:"/svc/Method"`

	// SendBytes simulates sending a message of this size. -1 skips the send probe.
	SendBytes int `long:"send-bytes" description:"Outbound probe message size in bytes (-1 = skip)." default:"-1"`

	// RecvBytes simulates receiving a message of this size. -1 skips the receive probe.
	RecvBytes int `long:"recv-bytes" description:"Inbound probe message size in bytes (-1 = skip)." default:"-1"`
}

// Parse options
type parseOptions struct{ args []string }
type ParseOption func(*parseOptions)

func WithOSArgs() ParseOption { return func(o *parseOptions) { o.args = os.Args[1:] } }
func WithArgs(a []string) ParseOption {
	return func(o *parseOptions) { o.args = append([]string{}, a...) }
}

// Parse parses flags/env into Config using go-flags.
func Parse(opts ...ParseOption) (*Config, error) {
	var po parseOptions
	for _, opt := range opts {
		opt(&po)
	}
	cfg := &Config{}
	p := flags.NewParser(cfg, flags.Default)
	var err error
	if len(po.args) > 0 {
		_, err = p.ParseArgs(po.args)
	} else {
		_, err = p.Parse()
	}
	if err != nil {
		if ferr, ok := err.(*flags.Error); ok && ferr.Type == flags.ErrHelp {
			return nil, nil
		}
		return nil, err
	}
	return cfg, nil
}

// Run builds the channel, runs the probes and logs the verdicts. It returns
// an error if configuration fails or any probe violates a limit, so the
// process exit code reflects the outcome.
func Run(ctx context.Context, cfg Config) error {
	chanCfg := pipeline.ChannelConfig{
		MaxSendMessageLength:    optInt(cfg.MaxSend),
		MaxReceiveMessageLength: optInt(cfg.MaxRecv),
	}
	if cfg.ServiceConfigPath != "" {
		data, err := os.ReadFile(cfg.ServiceConfigPath)
		if err != nil {
			return fmt.Errorf("read service config: %w", err)
		}
		sc, err := serviceconfig.ParseJSON(data)
		if err != nil {
			return err
		}
		chanCfg.ServiceConfig = sc
		log.Printf("limitcheck: loaded service config with %d method(s)", sc.Len())
	}

	transport := transportmock.New()
	ch, err := pipeline.NewChannel(chanCfg, msgsize.Filter(), pipeline.TransportFilter(transport))
	if err != nil {
		return fmt.Errorf("build channel: %w", err)
	}
	defer ch.Close()

	lim := msgsize.Resolve(msgsize.ChannelDefaults(chanCfg), chanCfg.ServiceConfig, cfg.Method)
	log.Printf("limitcheck: %s effective limits: max send %s, max recv %s",
		cfg.Method, lim.MaxSend, lim.MaxRecv)

	call := ch.NewCall(cfg.Method)
	defer call.Finish()

	var probeErr error
	if cfg.SendBytes >= 0 {
		err := call.StartOp(&pipeline.Operation{SendMessage: make([]byte, cfg.SendBytes)})
		if err != nil {
			log.Printf("limitcheck: send of %d bytes rejected: %v", cfg.SendBytes, err)
			probeErr = errors.Join(probeErr, err)
		} else {
			log.Printf("limitcheck: send of %d bytes allowed", cfg.SendBytes)
		}
	}
	if cfg.RecvBytes >= 0 && call.Err() == nil {
		var msg []byte
		recvErr := make(chan error, 1)
		op := &pipeline.Operation{
			RecvMessage: &msg,
			RecvReady:   pipeline.NewCompletion(func(err error) { recvErr <- err }),
		}
		if err := call.StartOp(op); err != nil {
			return fmt.Errorf("register receive: %w", err)
		}
		transport.Streams()[0].Deliver(make([]byte, cfg.RecvBytes), nil)
		if err := <-recvErr; err != nil {
			log.Printf("limitcheck: receive of %d bytes rejected: %v", cfg.RecvBytes, err)
			probeErr = errors.Join(probeErr, err)
		} else {
			log.Printf("limitcheck: receive of %d bytes allowed", cfg.RecvBytes)
		}
	}
	return probeErr
}

// optInt converts the -1 flag convention into an optional integer.
func optInt(v int) *int {
	if v < 0 {
		return nil
	}
	return &v
}
