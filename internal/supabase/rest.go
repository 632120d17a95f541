package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Riboost-Studio/order-print-desk/internal/model"
)

// --- Data (PostgREST) ---

const orderSelect = "*,order_items(*)"

// FetchOrder loads one order with its line items.
func (c *Client) FetchOrder(ctx context.Context, id int64) (model.Order, error) {
	q := url.Values{}
	q.Set("select", orderSelect)
	q.Set("id", fmt.Sprintf("eq.%d", id))

	header := bearer(c.accessToken())
	header.Set("Accept", "application/vnd.pgrst.object+json")

	var order model.Order
	if err := c.do(ctx, http.MethodGet, "/rest/v1/orders?"+q.Encode(), header, nil, &order); err != nil {
		return model.Order{}, restErr(err)
	}
	return order, nil
}

// PendingOrders lists pending orders, newest first.
func (c *Client) PendingOrders(ctx context.Context) ([]model.Order, error) {
	q := url.Values{}
	q.Set("select", orderSelect)
	q.Set("status", "eq."+string(model.OrderStatusPending))
	q.Set("order", "created_at.desc")

	var orders []model.Order
	if err := c.do(ctx, http.MethodGet, "/rest/v1/orders?"+q.Encode(), bearer(c.accessToken()), nil, &orders); err != nil {
		return nil, restErr(err)
	}
	if orders == nil {
		orders = []model.Order{}
	}
	return orders, nil
}

func restErr(err error) error {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusUnauthorized {
			return model.NewError(model.ErrAuth, statusErr.Message)
		}
		return fmt.Errorf("%w: %s", model.ErrTransport, statusErr.Message)
	}
	return err
}
