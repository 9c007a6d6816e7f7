package fixtures

import (
	"strconv"
	"time"

	"github.com/nimasrn/engagement-reseller/internal/model"
)

const (
	TikTokViews        int64 = 1
	InstagramFollowers int64 = 2
	TwitterFollowers   int64 = 3
)

// VendorServices is an action=services body. TikTok views price at 0.02
// credits a unit and Instagram followers at 0.5 through the static table.
const VendorServices = `[
	{"service": 1, "name": "TikTok Views [Fast]", "type": "Default", "category": "TikTok Views", "rate": "0.02", "min": "100", "max": "100000", "refill": false, "cancel": true},
	{"service": 2, "name": "Instagram Followers", "type": "Default", "category": "Instagram Followers", "rate": "2.40", "min": "50", "max": "10000", "refill": true, "cancel": false},
	{"service": "3", "name": "Twitter Followers", "type": "Default", "category": "Twitter", "rate": "4.00", "min": "100", "max": "20000", "refill": "1", "cancel": "0"}
]`

const (
	LinkTikTok    = "https://www.tiktok.com/@reseller/video/7301"
	LinkInstagram = "https://www.instagram.com/reseller/"
)

func StatusBody(status string, startCount, remains int64) string {
	return `{"charge": "0.20000", "start_count": "` + strconv.FormatInt(startCount, 10) + `", "status": "` + status + `", "remains": "` + strconv.FormatInt(remains, 10) + `", "currency": "USD"}`
}

func NewCreateOrderRequest(serviceID int64, link string, quantity int64) model.CreateOrderRequest {
	return model.CreateOrderRequest{
		ServiceID: serviceID,
		Link:      link,
		Quantity:  quantity,
	}
}

func TikTokViewsRequest(quantity int64) model.CreateOrderRequest {
	return NewCreateOrderRequest(TikTokViews, LinkTikTok, quantity)
}

func OrderFilterByUser(userID int64) model.OrderFilter {
	return model.OrderFilter{
		UserID: &userID,
		Limit:  50,
		Offset: 0,
		Desc:   false,
	}
}

func OrderFilterByStatus(userID int64, statuses ...model.OrderStatus) model.OrderFilter {
	f := OrderFilterByUser(userID)
	f.Statuses = statuses
	return f
}

func OrderFilterByTimeRange(userID int64, from, to time.Time) model.OrderFilter {
	f := OrderFilterByUser(userID)
	f.From = &from
	f.To = &to
	return f
}
