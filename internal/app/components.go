package app

import (
	"github.com/stacklok/toolhive-jobwatch/internal/connection"
	"github.com/stacklok/toolhive-jobwatch/internal/jobs"
	"github.com/stacklok/toolhive-jobwatch/internal/jobsapi"
	"github.com/stacklok/toolhive-jobwatch/internal/notify"
	"github.com/stacklok/toolhive-jobwatch/internal/observer"
	"github.com/stacklok/toolhive-jobwatch/internal/poller"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Client talks to the jobs REST API
	Client jobsapi.Client

	// Registry shares push channels between tail views
	Registry *connection.Registry

	// Poller refreshes the job list
	Poller *poller.Poller

	// Notifier turns successive job lists into outcome events
	Notifier *notify.Notifier

	// Snapshots fans every successful poll out to open tail views
	Snapshots *observer.List[[]jobs.Job]
}
