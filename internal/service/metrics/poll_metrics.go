package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	PollRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "signalhub",
			Subsystem: "mt45",
			Name:      "polls_total",
			Help:      "Terminal poll requests by result",
		},
		[]string{"result"},
	)

	PolledOrders = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "signalhub",
			Subsystem: "mt45",
			Name:      "orders_delivered_total",
			Help:      "Orders handed to polling terminals",
		},
	)
)

func Register() {
	once.Do(func() {
		prometheus.MustRegister(PollRequests, PolledOrders)
	})
}
