package cloudcode

import (
	"context"
	"net/http"

	errs "github.com/poemonsense/cloudcode-relay/internal/errors"
	"github.com/poemonsense/cloudcode-relay/internal/format"
	"github.com/poemonsense/cloudcode-relay/pkg/anthropic"
)

// CountTokens obtains an exact input token count by dispatching a one-token
// probe and echoing back the usage upstream reports. Used for requests with
// media, where a local estimate is meaningless.
func (d *Dispatcher) CountTokens(ctx context.Context, req *anthropic.CountTokensRequest) (int, error) {
	probe := format.ConvertRequest(&anthropic.MessagesRequest{
		Model:     req.Model,
		Messages:  req.Messages,
		System:    req.System,
		Tools:     req.Tools,
		MaxTokens: 1,
	})

	resp, err := d.sendOnce(ctx, req.Model, probe)
	if err != nil {
		return 0, err
	}
	usage := resp.Usage()
	if usage == nil {
		return 0, errs.NewAPIError(http.StatusBadGateway, "upstream reported no usage")
	}
	n := usage.PromptTokenCount - usage.CachedContentTokenCount
	if n < 0 {
		n = 0
	}
	return n, nil
}
