package ocr

import (
	"context"
	"fmt"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sync/errgroup"

	"github.com/clanwars/ocrgov/ocr/governor"
	"github.com/clanwars/ocrgov/ocr/worker"
)

var log = logging.Logger("ocr")

// ItemResult is the outcome for one image of a scan.
type ItemResult struct {
	Name     string        `json:"name"`
	Result   Result        `json:"result"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// Ok reports whether the image produced text.
func (r ItemResult) Ok() bool {
	return r.Err == nil && r.Result.Success
}

// ScanResult is the outcome of a single or bulk scan.
type ScanResult struct {
	Request   *governor.Request `json:"request"`
	Items     []ItemResult      `json:"items"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
}

// Processor runs OCR engine calls under the governor.
type Processor struct {
	gov    *governor.Governor
	engine Engine
	pool   *worker.Pool

	itemParallelism int
}

// ProcessorOption configures a Processor
type ProcessorOption func(*Processor)

// WithItemParallelism sets how many images of one bulk scan may be on the
// worker pool at the same time. The default is 1.
func WithItemParallelism(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.itemParallelism = n
		}
	}
}

// NewProcessor creates a processor.
func NewProcessor(gov *governor.Governor, engine Engine, pool *worker.Pool, options ...ProcessorOption) *Processor {
	p := &Processor{
		gov:             gov,
		engine:          engine,
		pool:            pool,
		itemParallelism: 1,
	}
	for _, option := range options {
		option(p)
	}
	return p
}

// ItemParallelism is the number of images of one scan that may be on the
// worker pool at the same time.
func (p *Processor) ItemParallelism() int {
	return p.itemParallelism
}

// ScanSingle runs OCR on one image in the Express tier.
func (p *Processor) ScanSingle(ctx context.Context, img Image, submitterIDs ...string) (ScanResult, error) {
	return p.scan(ctx, []Image{img}, submitterIDs)
}

// ScanBulk runs OCR on a batch of images as one governed request. An image
// that fails does not stop the others; the scan fails only if every image
// failed or ctx ended.
func (p *Processor) ScanBulk(ctx context.Context, imgs []Image, submitterIDs ...string) (ScanResult, error) {
	if len(imgs) == 0 {
		return ScanResult{}, ErrNoImages
	}
	return p.scan(ctx, imgs, submitterIDs)
}

func (p *Processor) scan(ctx context.Context, imgs []Image, submitterIDs []string) (ScanResult, error) {
	req := p.gov.Submit(len(imgs), submitterIDs...)
	res := ScanResult{
		Request: req,
		Items:   make([]ItemResult, len(imgs)),
	}

	err := p.gov.RunScoped(ctx, req, func(ctx context.Context) error {
		group, gctx := errgroup.WithContext(ctx)
		group.SetLimit(p.itemParallelism)

		for i := range imgs {
			group.Go(func() error {
				res.Items[i] = p.scanItem(gctx, imgs[i])
				// only cancellation aborts the rest of the batch
				return gctx.Err()
			})
		}
		if err := group.Wait(); err != nil {
			return err
		}

		for _, item := range res.Items {
			if item.Ok() {
				res.Succeeded++
			} else {
				res.Failed++
			}
		}
		if res.Succeeded == 0 {
			return fmt.Errorf("%w: %d image(s)", ErrAllItemsFailed, len(imgs))
		}
		return nil
	})

	log.Debugf("Scan %s finished: tier=%s items=%d ok=%d failed=%d err=%v",
		req.ID, req.Tier, len(imgs), res.Succeeded, res.Failed, err)
	return res, err
}

func (p *Processor) scanItem(ctx context.Context, img Image) ItemResult {
	item := ItemResult{Name: img.Name}
	start := time.Now()
	out := make(chan Result, 1)
	item.Err = p.pool.Do(ctx, func(ctx context.Context) error {
		r, err := p.engine.PerformOCR(ctx, img)
		out <- r
		return err
	})
	item.Duration = time.Since(start)
	// empty when the task was abandoned before a worker picked it up
	select {
	case item.Result = <-out:
	default:
	}
	if item.Err != nil {
		log.Debugf("OCR of %s failed: %v", img.Name, item.Err)
	}
	return item
}
