// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

package shim

import (
	"context"
	"os"
	"time"

	"github.com/containerd/containerd/events"
)

const (
	publishTimeout  = 5 * time.Second
	ttrpcAddressEnv = "TTRPC_ADDRESS"
)

// eventForwarder publishes task lifecycle events back to containerd
// if its ttrpc address is known, otherwise just logs them, so the
// shim remains usable when no containerd events plane is listening.
type eventForwarder struct {
	ctx       context.Context
	publisher events.Publisher
	events    <-chan interface{}
	log       bool
}

func newEventForwarder(ctx context.Context, publisher events.Publisher, ch <-chan interface{}) *eventForwarder {
	return &eventForwarder{
		ctx:       ctx,
		publisher: publisher,
		events:    ch,
		log:       os.Getenv(ttrpcAddressEnv) == "",
	}
}

func (f *eventForwarder) forward() {
	for e := range f.events {
		if f.log {
			shimLog.WithField("topic", getTopic(e)).Infof("event: %+v", e)
			continue
		}
		ctx, cancel := context.WithTimeout(f.ctx, publishTimeout)
		err := f.publisher.Publish(ctx, getTopic(e), e)
		cancel()
		if err != nil {
			shimLog.WithError(err).Error("publish event")
		}
	}
}
