package monitoring

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rotisserie/eris"
)

// Push sends everything in g to a Prometheus Pushgateway under the given job
// name. An empty url disables pushing.
func Push(ctx context.Context, url, job string, g prometheus.Gatherer) error {
	if url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(g).PushContext(ctx); err != nil {
		return eris.Wrapf(err, "monitoring: push metrics to %s", url)
	}
	return nil
}
