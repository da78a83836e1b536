/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package nodeinfo

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/kestrelsoc/kestrel/internal/pkg/log"
	"github.com/kestrelsoc/kestrel/pkg/lifecycle"
	store "github.com/kestrelsoc/kestrel/pkg/store/spi"
	"github.com/kestrelsoc/kestrel/pkg/vocab"
)

var logger = log.New("nodeinfo")

type stats struct {
	Users    int
	Posts    int
	Comments int
}

// Service periodically derives usage statistics from the activity store and
// produces NodeInfo documents from them.
type Service struct {
	*lifecycle.Lifecycle

	baseURL  string
	interval time.Duration
	store    store.Store
	done     chan struct{}
	mutex    sync.RWMutex
	stats    *stats
}

// New returns a NodeInfo service that refreshes its statistics every
// refreshInterval.
func New(baseURL *url.URL, refreshInterval time.Duration, activityStore store.Store) *Service {
	s := &Service{
		baseURL:  baseURL.String(),
		interval: refreshInterval,
		store:    activityStore,
		done:     make(chan struct{}),
		stats:    &stats{},
	}

	s.Lifecycle = lifecycle.New("nodeinfo",
		lifecycle.WithStart(s.start),
		lifecycle.WithStop(s.stop))

	return s
}

// GetNodeInfo returns a NodeInfo document compatible with the given version.
func (s *Service) GetNodeInfo(version Version) *NodeInfo {
	var repository string

	if version == V2_1 {
		repository = kestrelRepository
	}

	s.mutex.RLock()

	stats := s.stats

	s.mutex.RUnlock()

	return &NodeInfo{
		Version:   version,
		Protocols: []string{activityPubProtocol},
		Software: Software{
			Name:       "Kestrel",
			Version:    KestrelVersion,
			Repository: repository,
		},
		Services: Services{
			Inbound:  []string{},
			Outbound: []string{},
		},
		OpenRegistrations: false,
		Usage: Usage{
			Users: Users{
				Total: stats.Users,
			},
			LocalPosts:    stats.Posts,
			LocalComments: stats.Comments,
		},
	}
}

func (s *Service) start() {
	go s.refresh()

	logger.Info("Started NodeInfo service")
}

func (s *Service) stop() {
	close(s.done)

	logger.Info("Stopped NodeInfo service")
}

func (s *Service) refresh() {
	for {
		select {
		case <-time.After(s.interval):
			if err := s.retrieve(); err != nil {
				logger.Warn("Error updating stats", log.WithError(err))
			}
		case <-s.done:
			logger.Debug("Exiting stats retriever")

			return
		}
	}
}

// retrieve recomputes the statistics. A post is a 'Create' published by a
// local actor; such a 'Create' counts as a comment instead if its object is a
// reply.
func (s *Service) retrieve() error {
	users, err := s.store.CountPrivateKeys()
	if err != nil {
		return fmt.Errorf("count local actors: %w", err)
	}

	it, err := s.store.QueryActivities(store.NewCriteria(store.WithType(vocab.TypeCreate)))
	if err != nil {
		return fmt.Errorf("query 'Create' activities: %w", err)
	}

	defer closeIterator(it)

	newStats := &stats{Users: users}

	for {
		a, err := it.Next()
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				break
			}

			return fmt.Errorf("iterate 'Create' activities: %w", err)
		}

		if a.Actor() == nil || !strings.HasPrefix(a.Actor().String(), s.baseURL) {
			continue
		}

		if obj := a.Object().Object(); obj != nil && obj.InReplyTo().URL() != nil {
			newStats.Comments++
		} else {
			newStats.Posts++
		}
	}

	logger.Debug("Updated stats", log.WithTotalItems(newStats.Posts+newStats.Comments))

	s.mutex.Lock()

	s.stats = newStats

	s.mutex.Unlock()

	return nil
}

func closeIterator(it interface{ Close() error }) {
	if err := it.Close(); err != nil {
		logger.Warn("Error closing iterator", log.WithError(err))
	}
}
