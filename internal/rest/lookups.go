package rest

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/rickgao/tradelink/internal/model"
	"github.com/rickgao/tradelink/internal/wire"
)

// SecuritiesResponse from GET /v1/securities
type SecuritiesResponse struct {
	Securities []wire.SecurityBody `json:"securities"`
	Cursor     string              `json:"cursor"`
}

// PositionsResponse from GET /v1/portfolio/positions
type PositionsResponse struct {
	Positions []wire.PortfolioBody `json:"positions"`
	Cursor    string               `json:"cursor"`
}

// GetSecurities fetches one page of instruments.
func (c *Client) GetSecurities(ctx context.Context, code, board, cursor string) (*SecuritiesResponse, error) {
	query := url.Values{}
	if c.pageSize > 0 {
		query.Set("limit", strconv.Itoa(c.pageSize))
	}
	if code != "" {
		query.Set("code", code)
	}
	if board != "" {
		query.Set("board", board)
	}
	if cursor != "" {
		query.Set("cursor", cursor)
	}

	var resp SecuritiesResponse
	if err := c.get(ctx, "/v1/securities", query, &resp); err != nil {
		return nil, fmt.Errorf("get securities: %w", err)
	}
	return &resp, nil
}

// GetPositions fetches one page of positions.
func (c *Client) GetPositions(ctx context.Context, portfolio, cursor string) (*PositionsResponse, error) {
	query := url.Values{}
	if c.pageSize > 0 {
		query.Set("limit", strconv.Itoa(c.pageSize))
	}
	if portfolio != "" {
		query.Set("portfolio", portfolio)
	}
	if cursor != "" {
		query.Set("cursor", cursor)
	}

	var resp PositionsResponse
	if err := c.get(ctx, "/v1/portfolio/positions", query, &resp); err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	return &resp, nil
}

// LookupSecurities pages through every instrument matching req and tags
// the results with tx.
func (c *Client) LookupSecurities(ctx context.Context, tx model.TransactionID, req model.SecurityLookupMessage) ([]model.SecurityMessage, error) {
	var out []model.SecurityMessage
	cursor := ""

	for {
		resp, err := c.GetSecurities(ctx, req.Code, req.Board, cursor)
		if err != nil {
			return nil, err
		}
		for _, b := range resp.Securities {
			out = append(out, b.Message(tx))
		}
		if resp.Cursor == "" {
			break
		}
		cursor = resp.Cursor
	}

	return out, nil
}

// LookupPortfolio pages through every position of req's portfolio and tags
// the results with tx.
func (c *Client) LookupPortfolio(ctx context.Context, tx model.TransactionID, req model.PortfolioLookupMessage) ([]model.PortfolioMessage, error) {
	var out []model.PortfolioMessage
	cursor := ""

	for {
		resp, err := c.GetPositions(ctx, req.PortfolioName, cursor)
		if err != nil {
			return nil, err
		}
		for _, b := range resp.Positions {
			out = append(out, b.Message(tx))
		}
		if resp.Cursor == "" {
			break
		}
		cursor = resp.Cursor
	}

	return out, nil
}
