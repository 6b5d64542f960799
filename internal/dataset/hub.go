package dataset

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/schollz/progressbar/v3"
)

// hubPageSize is the maximum page length the datasets-server rows endpoint
// accepts.
const hubPageSize = 100

// HubClient pages rows out of the Hugging Face datasets-server REST API.
type HubClient struct {
	client *resty.Client
}

func NewHubClient(endpoint string) *HubClient {
	return &HubClient{
		client: resty.New().SetBaseURL(endpoint).SetTimeout(60 * time.Second),
	}
}

type hubRowsResponse struct {
	NumRowsTotal int `json:"num_rows_total"`
	Rows         []struct {
		RowIdx int     `json:"row_idx"`
		Row    Example `json:"row"`
	} `json:"rows"`
}

// LoadDataset fetches the named split, truncated to maxSamples rows when
// maxSamples > 0. Any transport or decode error aborts the load.
func (c *HubClient) LoadDataset(ctx context.Context, name, split string, maxSamples int) ([]Example, error) {
	var examples []Example
	var bar *progressbar.ProgressBar

	offset := 0
	for {
		var page hubRowsResponse
		res, err := c.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"dataset": name,
				"config":  "default",
				"split":   split,
				"offset":  fmt.Sprintf("%d", offset),
				"length":  fmt.Sprintf("%d", hubPageSize),
			}).
			SetResult(&page).
			Get("/rows")
		if err != nil {
			return nil, fmt.Errorf("error fetching dataset %s: %w", name, err)
		}
		if !res.IsSuccess() {
			return nil, fmt.Errorf("datasets server returned status %d for %s: %s", res.StatusCode(), name, res.String())
		}

		if bar == nil {
			total := page.NumRowsTotal
			if maxSamples > 0 && maxSamples < total {
				total = maxSamples
			}
			bar = progressbar.Default(int64(total), "downloading rows")
		}

		for _, row := range page.Rows {
			examples = append(examples, row.Row)
			_ = bar.Add(1)
			if maxSamples > 0 && len(examples) >= maxSamples {
				_ = bar.Finish()
				return examples, nil
			}
		}

		offset += len(page.Rows)
		if len(page.Rows) < hubPageSize || offset >= page.NumRowsTotal {
			break
		}
	}

	if bar != nil {
		_ = bar.Finish()
	}
	return examples, nil
}
