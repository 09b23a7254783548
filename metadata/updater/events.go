// Copyright 2024 The Packman Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License
//
// SPDX-License-Identifier: Apache-2.0
//

package updater

import "sync"

// Observer receives the events of update checks and downloads. Calls
// are made from the goroutine running the operation and must not block
// for long.
type Observer interface {
	UpdateAvailable(update *Update)
	Progress(id string, received, total int64)
	Complete(result *Result)
	Failed(id string, err error)
}

// ObserverFuncs adapts optional callbacks to Observer. Nil fields are
// ignored.
type ObserverFuncs struct {
	OnUpdateAvailable func(update *Update)
	OnProgress        func(id string, received, total int64)
	OnComplete        func(result *Result)
	OnFailed          func(id string, err error)
}

func (o ObserverFuncs) UpdateAvailable(update *Update) {
	if o.OnUpdateAvailable != nil {
		o.OnUpdateAvailable(update)
	}
}

func (o ObserverFuncs) Progress(id string, received, total int64) {
	if o.OnProgress != nil {
		o.OnProgress(id, received, total)
	}
}

func (o ObserverFuncs) Complete(result *Result) {
	if o.OnComplete != nil {
		o.OnComplete(result)
	}
}

func (o ObserverFuncs) Failed(id string, err error) {
	if o.OnFailed != nil {
		o.OnFailed(id, err)
	}
}

// ProgressEvent is a download progress report. Total is -1 when the
// length isn't known.
type ProgressEvent struct {
	ID       string
	Received int64
	Total    int64
}

// FailedEvent reports a failed download.
type FailedEvent struct {
	ID  string
	Err error
}

// ChannelObserver delivers events on buffered channels. Progress events
// are dropped while ProgressCh is full; the other channels block until
// read.
type ChannelObserver struct {
	AvailableCh chan *Update
	ProgressCh  chan ProgressEvent
	CompleteCh  chan *Result
	FailedCh    chan FailedEvent
}

// NewChannelObserver creates a ChannelObserver with size slots per
// channel.
func NewChannelObserver(size int) *ChannelObserver {
	return &ChannelObserver{
		AvailableCh: make(chan *Update, size),
		ProgressCh:  make(chan ProgressEvent, size),
		CompleteCh:  make(chan *Result, size),
		FailedCh:    make(chan FailedEvent, size),
	}
}

func (c *ChannelObserver) UpdateAvailable(update *Update) {
	c.AvailableCh <- update
}

func (c *ChannelObserver) Progress(id string, received, total int64) {
	select {
	case c.ProgressCh <- ProgressEvent{ID: id, Received: received, Total: total}:
	default:
	}
}

func (c *ChannelObserver) Complete(result *Result) {
	c.CompleteCh <- result
}

func (c *ChannelObserver) Failed(id string, err error) {
	c.FailedCh <- FailedEvent{ID: id, Err: err}
}

// observers fans events out to every registered Observer in
// registration order.
type observers struct {
	mu   sync.RWMutex
	list []Observer
}

func (o *observers) add(obs Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.list = append(o.list, obs)
}

func (o *observers) each(fn func(Observer)) {
	o.mu.RLock()
	list := o.list
	o.mu.RUnlock()
	for _, obs := range list {
		fn(obs)
	}
}

func (o *observers) UpdateAvailable(update *Update) {
	o.each(func(obs Observer) { obs.UpdateAvailable(update) })
}

func (o *observers) Progress(id string, received, total int64) {
	o.each(func(obs Observer) { obs.Progress(id, received, total) })
}

func (o *observers) Complete(result *Result) {
	o.each(func(obs Observer) { obs.Complete(result) })
}

func (o *observers) Failed(id string, err error) {
	o.each(func(obs Observer) { obs.Failed(id, err) })
}
