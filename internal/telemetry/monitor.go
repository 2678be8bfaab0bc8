// Package telemetry collects console output and network activity from a page
// so they can travel with a recording in a bug report.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

const bodyTimeout = 10 * time.Second

// Limits bounds what a Monitor retains.
type Limits struct {
	ConsoleEntries  int `yaml:"console_entries"`
	NetworkRequests int `yaml:"network_requests"`
	MaxBodyBytes    int `yaml:"max_body_bytes"`
}

// Monitor listens to one page target over its own chromedp connection.
type Monitor struct {
	Console *Console
	Network *Network

	targetID    string
	tabCtx      context.Context
	allocCancel context.CancelFunc
}

// NewMonitor returns a detached monitor; events can be fed to it directly.
func NewMonitor(limits Limits) *Monitor {
	return &Monitor{
		Console: NewConsole(limits.ConsoleEntries),
		Network: NewNetwork(limits.NetworkRequests, limits.MaxBodyBytes),
	}
}

// Attach connects to the browser at cdpURL and starts listening to targetID.
func Attach(ctx context.Context, cdpURL, targetID string, limits Limits) (*Monitor, error) {
	m := NewMonitor(limits)
	m.targetID = targetID

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), cdpURL)
	// The tab context is released with the allocator.
	tabCtx, _ := chromedp.NewContext(allocCtx, chromedp.WithTargetID(target.ID(targetID)))
	m.tabCtx, m.allocCancel = tabCtx, allocCancel

	chromedp.ListenTarget(tabCtx, m.handleEvent)
	errc := make(chan error, 1)
	go func() { errc <- chromedp.Run(tabCtx, network.Enable(), runtime.Enable()) }()
	select {
	case err := <-errc:
		if err != nil {
			allocCancel()
			return nil, fmt.Errorf("telemetry: enable network/runtime domains: %w", err)
		}
	case <-ctx.Done():
		allocCancel()
		return nil, ctx.Err()
	}
	slog.Info("telemetry attached", "target_id", targetID)
	return m, nil
}

func (m *Monitor) handleEvent(ev any) {
	switch e := ev.(type) {
	case *runtime.EventConsoleAPICalled:
		m.Console.OnConsoleAPICalled(e)
	case *runtime.EventExceptionThrown:
		m.Console.OnExceptionThrown(e)
	case *network.EventRequestWillBeSent:
		m.Network.OnRequestWillBeSent(e)
	case *network.EventResponseReceived:
		m.Network.OnResponseReceived(e)
	case *network.EventLoadingFinished:
		m.Network.OnLoadingFinished(e, m.bodyFetcher(e.RequestID))
	case *network.EventLoadingFailed:
		m.Network.OnLoadingFailed(e)
	}
}

func (m *Monitor) bodyFetcher(id network.RequestID) func() ([]byte, error) {
	if m.tabCtx == nil {
		return nil
	}
	tabCtx := m.tabCtx
	return func() ([]byte, error) {
		ctx, cancel := context.WithTimeout(tabCtx, bodyTimeout)
		defer cancel()
		var body []byte
		err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			body, err = network.GetResponseBody(id).Do(ctx)
			return err
		}))
		return body, err
	}
}

// Snapshot is the telemetry carried by a bug report.
type Snapshot struct {
	Console        []ConsoleEntry `json:"console"`
	Requests       []Request      `json:"requests"`
	FailedRequests []Request      `json:"failed_requests"`
}

func (m *Monitor) Snapshot() Snapshot {
	m.Network.Wait()
	return Snapshot{
		Console:        m.Console.Entries(),
		Requests:       m.Network.Requests(),
		FailedRequests: m.Network.FailedRequests(),
	}
}

func (m *Monitor) Close() {
	if m.allocCancel != nil {
		m.allocCancel()
		slog.Info("telemetry detached", "target_id", m.targetID)
	}
}
