package host

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
)

const navigateTimeout = 60 * time.Second

// BrowserLauncher opens URLs in a persistent Chrome window and hands every
// other target to Fallback.
type BrowserLauncher struct {
	Fallback Launcher
	Headless bool

	mu            sync.Mutex
	allocCtx      context.Context
	browserCtx    context.Context
	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc
}

func NewBrowserLauncher(fallback Launcher) *BrowserLauncher {
	return &BrowserLauncher{Fallback: fallback}
}

func (b *BrowserLauncher) Launch(ctx context.Context, target, args string) error {
	if !IsURL(target) {
		if b.Fallback == nil {
			return fmt.Errorf("%w: no launcher for %s", ErrUnavailable, target)
		}
		return b.Fallback.Launch(ctx, target, args)
	}

	browserCtx, err := b.ensureBrowser()
	if err != nil {
		return fmt.Errorf("failed to initialize browser: %w", err)
	}

	navCtx, cancel := context.WithTimeout(browserCtx, navigateTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(navCtx, chromedp.Navigate(target))
}

// PageHTML returns the outer HTML of the current page.
func (b *BrowserLauncher) PageHTML(ctx context.Context) (string, error) {
	b.mu.Lock()
	browserCtx := b.browserCtx
	b.mu.Unlock()
	if browserCtx == nil {
		return "", fmt.Errorf("%w: browser not started", ErrUnavailable)
	}

	runCtx, cancel := context.WithTimeout(browserCtx, navigateTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var html string
	err := chromedp.Run(runCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			node, err := dom.GetDocument().Do(ctx)
			if err != nil {
				return err
			}
			html, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
			return err
		}),
	)
	return html, err
}

func (b *BrowserLauncher) ensureBrowser() (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browserCtx != nil {
		select {
		case <-b.browserCtx.Done():
			b.cleanup()
		default:
			return b.browserCtx, nil
		}
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("headless", b.Headless),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)

	b.allocCtx, b.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	b.browserCtx, b.browserCancel = chromedp.NewContext(b.allocCtx)

	if err := chromedp.Run(b.browserCtx); err != nil {
		b.cleanup()
		return nil, err
	}
	return b.browserCtx, nil
}

// Close shuts the browser down. A later Launch starts a new one.
func (b *BrowserLauncher) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cleanup()
}

func (b *BrowserLauncher) cleanup() {
	if b.browserCancel != nil {
		b.browserCancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
	b.browserCtx = nil
	b.allocCtx = nil
}
