package api

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"gitlab.com/plurl/plurl"
	"golang.org/x/sync/errgroup"
)

// DoBatch launches one attempt per URL concurrently and joins the
// results in input order regardless of completion order. A slot whose
// attempt escapes the executor's own error handling is synthesized as a
// failure record; it never aborts its siblings.
func (e *Executor) DoBatch(ctx context.Context, urls []string, method string) []*plurl.RequestResult {
	if len(urls) == 0 {
		return []*plurl.RequestResult{}
	}

	e.logger.Record(plurl.EventBatch, &plurl.BatchEvent{
		EndpointCount: len(urls),
		Method:        method,
		Message:       fmt.Sprintf("Starting batch test of %d endpoints", len(urls)),
	})

	results := make([]*plurl.RequestResult, len(urls))
	var g errgroup.Group
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					results[i] = taskFailure(u, method, fmt.Sprintf("%v", r))
					e.logger.Error(fmt.Sprintf("Task failed for %s", u), errors.Errorf("%v", r))
				}
			}()
			result, err := e.Do(ctx, Request{URL: u, Method: method})
			if err != nil {
				results[i] = taskFailure(u, method, err.Error())
				e.logger.Error(fmt.Sprintf("Task failed for %s", u), err)
				return nil
			}
			results[i] = result
			return nil
		})
	}
	_ = g.Wait()

	success := 0
	for _, r := range results {
		if r.StatusBelow(400) {
			success++
		}
	}
	rate := fmt.Sprintf("%.1f%%", float64(success)/float64(len(urls))*100)
	e.logger.Record(plurl.EventBatchComplete, &plurl.BatchSummaryEvent{
		Total:       len(urls),
		Successful:  success,
		Failed:      len(urls) - success,
		SuccessRate: rate,
		Message:     fmt.Sprintf("Batch test completed: %d/%d successful", success, len(urls)),
	})
	return results
}

func taskFailure(url, method, detail string) *plurl.RequestResult {
	return &plurl.RequestResult{
		URL:    url,
		Method: method,
		Error:  "Task failed: " + detail,
	}
}
