package amazon

import (
	"encoding/json"
	"fmt"
	"strings"

	"bidflow/internal/types"
)

// Wire types for the advertising API. Each external call site deserializes
// into one of these and maps it to the canonical domain shape with explicit
// field-presence checks, so a malformed upstream payload fails loudly at the
// boundary instead of propagating zero values.

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type portfolioListResponse struct {
	Portfolios []portfolioWire `json:"portfolios"`
}

type portfolioWire struct {
	PortfolioID json.Number `json:"portfolioId"`
	Name        string      `json:"name"`
	State       string      `json:"state"`
	Budget      *struct {
		Amount *float64 `json:"amount"`
		Policy *string  `json:"policy"`
	} `json:"budget"`
}

func (w portfolioWire) toDomain() types.Portfolio {
	p := types.Portfolio{
		PortfolioID: w.PortfolioID.String(),
		Name:        w.Name,
		State:       w.State,
	}
	if w.Budget != nil {
		p.BudgetAmount = w.Budget.Amount
		p.BudgetPolicy = w.Budget.Policy
	}
	return p
}

type campaignListResponse struct {
	Campaigns []campaignWire `json:"campaigns"`
	NextToken string         `json:"nextToken"`
}

type campaignWire struct {
	CampaignID  json.Number  `json:"campaignId"`
	PortfolioID *json.Number `json:"portfolioId"`
	Name        string       `json:"name"`
	State       string       `json:"state"`
	Budget      *struct {
		Budget     float64 `json:"budget"`
		BudgetType string  `json:"budgetType"`
	} `json:"budget"`
	DynamicBidding *struct {
		Strategy         string `json:"strategy"`
		PlacementBidding []struct {
			Placement  string  `json:"placement"`
			Percentage float64 `json:"percentage"`
		} `json:"placementBidding"`
	} `json:"dynamicBidding"`
}

// Placement enum values used by the campaign bidding array.
const (
	placementTop         = "PLACEMENT_TOP"
	placementRestOfSrch  = "PLACEMENT_REST_OF_SEARCH"
	placementProductPage = "PLACEMENT_PRODUCT_PAGE"
)

func (w campaignWire) toDomain() types.Campaign {
	c := types.Campaign{
		CampaignID:      w.CampaignID.String(),
		Name:            w.Name,
		State:           w.State,
		BudgetType:      "DAILY",
		BiddingStrategy: "LEGACY_FOR_SALES",
	}
	if w.PortfolioID != nil {
		id := w.PortfolioID.String()
		c.PortfolioID = &id
	}
	if w.Budget != nil {
		c.Budget = w.Budget.Budget
		if w.Budget.BudgetType != "" {
			c.BudgetType = w.Budget.BudgetType
		}
	}
	if w.DynamicBidding != nil {
		if w.DynamicBidding.Strategy != "" {
			c.BiddingStrategy = w.DynamicBidding.Strategy
		}
		for _, b := range w.DynamicBidding.PlacementBidding {
			switch b.Placement {
			case placementTop:
				c.BidTopOfSearch = b.Percentage
			case placementRestOfSrch:
				c.BidRestOfSearch = b.Percentage
			case placementProductPage:
				c.BidProductPage = b.Percentage
			}
		}
	}
	return c
}

type createReportRequest struct {
	Name          string              `json:"name"`
	StartDate     string              `json:"startDate"`
	EndDate       string              `json:"endDate"`
	Configuration reportConfiguration `json:"configuration"`
}

type reportConfiguration struct {
	AdProduct    string   `json:"adProduct"`
	GroupBy      []string `json:"groupBy"`
	Columns      []string `json:"columns"`
	ReportTypeID string   `json:"reportTypeId"`
	TimeUnit     string   `json:"timeUnit"`
	Format       string   `json:"format"`
}

type createReportResponse struct {
	ReportID string `json:"reportId"`
}

// ReportStatusResponse is the client-visible result of polling one report.
type ReportStatusResponse struct {
	ReportID      string `json:"reportId"`
	Status        string `json:"status"`
	StatusDetails string `json:"statusDetails,omitempty"`
	URL           string `json:"url,omitempty"`
}

// Upstream report status values.
const (
	UpstreamPending    = "PENDING"
	UpstreamProcessing = "PROCESSING"
	UpstreamCompleted  = "COMPLETED"
	UpstreamFailure    = "FAILURE"
)

type reportRowWire struct {
	CampaignID              *json.Number `json:"campaignId"`
	CampaignName            string       `json:"campaignName"`
	PlacementClassification string       `json:"placementClassification"`
	Impressions             int64        `json:"impressions"`
	Clicks                  int64        `json:"clicks"`
	Cost                    float64      `json:"cost"`
	Sales14d                float64      `json:"sales14d"`
	Purchases14d            int64        `json:"purchases14d"`
}

// parseReportRows decodes a decompressed report payload into validated
// domain rows. A row without a campaignId is a structural defect in the
// upstream payload and fails the whole parse.
func parseReportRows(data []byte) ([]types.ReportRow, error) {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()

	var wires []reportRowWire
	if err := dec.Decode(&wires); err != nil {
		return nil, types.NewAppError(types.ErrCodeReportParse, "report payload is not a JSON row array", err)
	}

	rows := make([]types.ReportRow, 0, len(wires))
	for i, w := range wires {
		if w.CampaignID == nil || w.CampaignID.String() == "" {
			return nil, types.NewAppError(types.ErrCodeReportParse,
				fmt.Sprintf("report row %d is missing campaignId", i), nil)
		}
		rows = append(rows, types.ReportRow{
			CampaignID:              w.CampaignID.String(),
			CampaignName:            w.CampaignName,
			PlacementClassification: w.PlacementClassification,
			Impressions:             w.Impressions,
			Clicks:                  w.Clicks,
			Spend:                   w.Cost,
			Sales14d:                w.Sales14d,
			Purchases14d:            w.Purchases14d,
		})
	}
	return rows, nil
}
