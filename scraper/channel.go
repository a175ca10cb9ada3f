package scraper

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// channel is one upstream route with its own identity and timeout. The
// collector is never used directly; each request runs on a clone so
// concurrent lookups do not share callbacks.
type channel struct {
	name      string
	accept    string
	collector *colly.Collector
	observer  Observer
}

func newChannel(name, userAgent, accept string, timeout time.Duration, transport http.RoundTripper, observer Observer) *channel {
	collector := colly.NewCollector(
		colly.UserAgent(userAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(transport)

	return &channel{
		name:      name,
		accept:    accept,
		collector: collector,
		observer:  observer,
	}
}

// get issues one GET and returns the body of a 200 response. Every call
// emits exactly one fetch event.
func (ch *channel) get(ctx context.Context, keyword, target string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := ch.collector.Clone()

	var (
		body   []byte
		status int
	)
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", ch.accept)
		r.Headers.Set("Accept-Language", "ja-JP,ja;q=0.9,en;q=0.5")
	})
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
	})

	start := time.Now()
	err := c.Visit(target)
	ev := Event{
		Stage:    StageFetch,
		Channel:  ch.name,
		Keyword:  keyword,
		URL:      target,
		Status:   status,
		Count:    len(body),
		Duration: time.Since(start),
	}

	if err == nil && status != http.StatusOK {
		err = fmt.Errorf("unexpected status %d", status)
	}
	if err != nil {
		classified := classifyError(err, status)
		if classified == nil {
			classified = err
		}
		ev.Err = classified
		ev.ErrorType = ErrorTypeLabel(classified)
		ev.Count = 0
		emit(ch.observer, ev)
		return nil, fmt.Errorf("%s: %w", ch.name, classified)
	}

	emit(ch.observer, ev)
	return body, nil
}
