// Copyright 2026 The rtmcast Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package subscription

import (
	"context"
	"fmt"
	"strings"

	"github.com/alwitt/rtmcast/common"
	"github.com/apex/log"
)

// Flavor a subscription key namespace
type Flavor string

// Supported subscription flavors
const (
	// FlavorActivity change stream of an activity. It carries changes to the activity
	// itself and to its direct children. The stream of a root activity also carries every
	// change anywhere in its tree.
	FlavorActivity Flavor = "author.activity"
	// FlavorChangeLog change log stream of a root activity
	FlavorChangeLog Flavor = "project.activity.changelog"
)

// Key build the subscription key of an element within a flavor
func Key(flavor Flavor, elementID string) string {
	return fmt.Sprintf("%s/%s", flavor, elementID)
}

// Manager operates subscriptions on behalf of RTM sessions
type Manager interface {
	// Subscribe subscribe a session to the stream of an element. Returns the subscription ID.
	Subscribe(
		ctxt context.Context, flavor Flavor, elementID string, session Session,
	) (string, error)
	// SubscribeFrom Subscribe, recording the element the subscription was requested for
	// when elementID was derived from it
	SubscribeFrom(
		ctxt context.Context, flavor Flavor, elementID string, originID string, session Session,
	) (string, error)
	// Unsubscribe remove the subscription of a session to the stream of an element
	Unsubscribe(ctxt context.Context, flavor Flavor, elementID string, sessionID string) error
	// UnsubscribeFrom remove the subscriptions of a session within a flavor which were
	// requested for originID. Returns the number removed.
	UnsubscribeFrom(
		ctxt context.Context, flavor Flavor, originID string, sessionID string,
	) (int, error)
	// CloseSession remove all subscriptions of a session
	CloseSession(ctxt context.Context, sessionID string) int
	// Listeners fetch the listeners currently subscribed to the stream of an element
	Listeners(flavor Flavor, elementID string) []Listener
	// Reap remove all subscriptions of a session after a failed delivery
	Reap(sessionID string) int
}

// managerImpl implements Manager
type managerImpl struct {
	common.Component
	registry Registry
}

// GetManager define a new subscription Manager
func GetManager(registry Registry, instance string) (Manager, error) {
	if registry == nil {
		return nil, fmt.Errorf("subscription manager requires a registry")
	}
	logTags := log.Fields{
		"module": "subscription", "component": "manager", "instance": instance,
	}
	return &managerImpl{
		Component: common.Component{LogTags: logTags},
		registry:  registry,
	}, nil
}

func validFlavor(flavor Flavor) error {
	switch flavor {
	case FlavorActivity, FlavorChangeLog:
		return nil
	}
	return common.NewValidationError("unknown subscription flavor '%s'", flavor)
}

// Subscribe subscribe a session to the stream of an element
func (m *managerImpl) Subscribe(
	ctxt context.Context, flavor Flavor, elementID string, session Session,
) (string, error) {
	return m.SubscribeFrom(ctxt, flavor, elementID, elementID, session)
}

// SubscribeFrom subscribe a session to the stream of an element on behalf of originID
func (m *managerImpl) SubscribeFrom(
	ctxt context.Context, flavor Flavor, elementID string, originID string, session Session,
) (string, error) {
	localLogTags, err := common.UpdateLogTags(ctxt, m.LogTags)
	if err != nil {
		return "", err
	}
	if err := ctxt.Err(); err != nil {
		return "", err
	}
	if err := validFlavor(flavor); err != nil {
		return "", err
	}
	if elementID == "" {
		return "", common.NewValidationError("missing element ID for %s subscription", flavor)
	}
	key := Key(flavor, elementID)
	subscriptionID, err := m.registry.RegisterFrom(key, originID, session)
	if err != nil {
		log.WithError(err).WithFields(localLogTags).Errorf("Unable to register %s", key)
		return "", err
	}
	log.WithFields(localLogTags).Debugf("Subscribed to %s as %s", key, subscriptionID)
	return subscriptionID, nil
}

// Unsubscribe remove the subscription of a session to the stream of an element
func (m *managerImpl) Unsubscribe(
	ctxt context.Context, flavor Flavor, elementID string, sessionID string,
) error {
	localLogTags, err := common.UpdateLogTags(ctxt, m.LogTags)
	if err != nil {
		return err
	}
	if err := ctxt.Err(); err != nil {
		return err
	}
	if err := validFlavor(flavor); err != nil {
		return err
	}
	key := Key(flavor, elementID)
	removed, err := m.registry.Unregister(key, sessionID)
	if err != nil {
		log.WithError(err).WithFields(localLogTags).Debugf("Unable to unsubscribe from %s", key)
		return err
	}
	log.WithFields(localLogTags).Debugf("Unsubscribed %s from %s", removed.SubscriptionID, key)
	return nil
}

// UnsubscribeFrom remove the subscriptions of a session requested for originID
func (m *managerImpl) UnsubscribeFrom(
	ctxt context.Context, flavor Flavor, originID string, sessionID string,
) (int, error) {
	localLogTags, err := common.UpdateLogTags(ctxt, m.LogTags)
	if err != nil {
		return 0, err
	}
	if err := ctxt.Err(); err != nil {
		return 0, err
	}
	if err := validFlavor(flavor); err != nil {
		return 0, err
	}
	prefix := Key(flavor, "")
	removed := 0
	for _, entry := range m.registry.SessionListeners(sessionID) {
		if entry.Origin != originID || !strings.HasPrefix(entry.Key, prefix) {
			continue
		}
		// Already superseded or removed
		if _, err := m.registry.UnregisterID(entry.SubscriptionID); err != nil {
			continue
		}
		log.WithFields(localLogTags).Debugf(
			"Unsubscribed %s from %s requested for %s", entry.SubscriptionID, entry.Key, originID,
		)
		removed++
	}
	if removed == 0 {
		return 0, common.NewNotFoundError("subscription %s not found", Key(flavor, originID))
	}
	return removed, nil
}

// CloseSession remove all subscriptions of a session
func (m *managerImpl) CloseSession(ctxt context.Context, sessionID string) int {
	localLogTags, _ := common.UpdateLogTags(ctxt, m.LogTags)
	removed := m.registry.RemoveSession(sessionID)
	log.WithFields(localLogTags).Debugf(
		"Closed session %s, removed %d subscriptions", sessionID, removed,
	)
	return removed
}

// Listeners fetch the listeners currently subscribed to the stream of an element
func (m *managerImpl) Listeners(flavor Flavor, elementID string) []Listener {
	return m.registry.Listeners(Key(flavor, elementID))
}

// Reap remove all subscriptions of a session after a failed delivery
func (m *managerImpl) Reap(sessionID string) int {
	removed := m.registry.RemoveSession(sessionID)
	if removed > 0 {
		log.WithFields(m.LogTags).Infof(
			"Reaped %d subscriptions of closed session %s", removed, sessionID,
		)
	}
	return removed
}
