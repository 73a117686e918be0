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
	"errors"
	"fmt"
	"sync"

	"github.com/alwitt/rtmcast/common"
	"github.com/apex/log"
	"github.com/google/uuid"
)

// ErrSessionClosed returned when sending to a session which is no longer connected
var ErrSessionClosed = errors.New("rtm session closed")

// Session a connected RTM client which can receive frames
type Session interface {
	// ID unique session ID
	ID() string
	// Send write one frame to the client
	Send(ctxt context.Context, frame interface{}) error
}

// Listener one session registered against one subscription key
type Listener struct {
	// SubscriptionID opaque ID of the subscription
	SubscriptionID string
	// Key the subscription key
	Key string
	// Origin the element the subscription was requested for. Differs from the key's
	// element when the key was derived from it, like the root of an activity.
	Origin string
	// Session the owning session
	Session Session
}

// Registry table of subscription keys to registered listeners
type Registry interface {
	// Register register a session against a key. A session holds at most one registration
	// per key; registering again replaces the old registration.
	Register(key string, session Session) (string, error)
	// RegisterFrom Register, recording the element the registration was requested for
	RegisterFrom(key string, origin string, session Session) (string, error)
	// Unregister remove the registration of a session for a key
	Unregister(key string, sessionID string) (Listener, error)
	// UnregisterID remove a registration by its subscription ID
	UnregisterID(subscriptionID string) (Listener, error)
	// Listeners snapshot of the listeners currently registered for a key
	Listeners(key string) []Listener
	// SessionListeners snapshot of the registrations held by a session
	SessionListeners(sessionID string) []Listener
	// RemoveSession remove every registration held by a session. Returns the number removed.
	RemoveSession(sessionID string) int
	// SubscriptionCount number of active registrations
	SubscriptionCount() int
}

// registryImpl implements Registry
type registryImpl struct {
	common.Component
	lock sync.RWMutex
	// byKey key -> session ID -> listener
	byKey map[string]map[string]*Listener
	// byID subscription ID -> listener
	byID map[string]*Listener
	// bySession session ID -> key -> listener
	bySession map[string]map[string]*Listener
}

// GetRegistry define a new subscription Registry
func GetRegistry(instance string) (Registry, error) {
	logTags := log.Fields{
		"module": "subscription", "component": "registry", "instance": instance,
	}
	return &registryImpl{
		Component: common.Component{LogTags: logTags},
		byKey:     make(map[string]map[string]*Listener),
		byID:      make(map[string]*Listener),
		bySession: make(map[string]map[string]*Listener),
	}, nil
}

// drop remove a listener from all indexes. Must hold the lock.
func (r *registryImpl) drop(entry *Listener) {
	sessionID := entry.Session.ID()
	delete(r.byID, entry.SubscriptionID)
	if perKey, ok := r.byKey[entry.Key]; ok {
		delete(perKey, sessionID)
		if len(perKey) == 0 {
			delete(r.byKey, entry.Key)
		}
	}
	if perSession, ok := r.bySession[sessionID]; ok {
		delete(perSession, entry.Key)
		if len(perSession) == 0 {
			delete(r.bySession, sessionID)
		}
	}
}

// Register register a session against a key
func (r *registryImpl) Register(key string, session Session) (string, error) {
	return r.RegisterFrom(key, "", session)
}

// RegisterFrom register a session against a key, recording the element the
// registration was requested for
func (r *registryImpl) RegisterFrom(key string, origin string, session Session) (string, error) {
	if key == "" {
		return "", fmt.Errorf("subscription key is empty")
	}
	if session == nil || session.ID() == "" {
		return "", fmt.Errorf("subscription for %s has no session", key)
	}
	sessionID := session.ID()

	r.lock.Lock()
	defer r.lock.Unlock()

	if perKey, ok := r.byKey[key]; ok {
		if existing, ok := perKey[sessionID]; ok {
			log.WithFields(r.LogTags).Debugf(
				"Session %s re-subscribed to %s, superseding %s",
				sessionID, key, existing.SubscriptionID,
			)
			r.drop(existing)
		}
	}

	entry := &Listener{
		SubscriptionID: uuid.NewString(), Key: key, Origin: origin, Session: session,
	}
	if _, ok := r.byKey[key]; !ok {
		r.byKey[key] = make(map[string]*Listener)
	}
	r.byKey[key][sessionID] = entry
	if _, ok := r.bySession[sessionID]; !ok {
		r.bySession[sessionID] = make(map[string]*Listener)
	}
	r.bySession[sessionID][key] = entry
	r.byID[entry.SubscriptionID] = entry
	return entry.SubscriptionID, nil
}

// Unregister remove the registration of a session for a key
func (r *registryImpl) Unregister(key string, sessionID string) (Listener, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	perSession, ok := r.bySession[sessionID]
	if !ok {
		return Listener{}, common.NewNotFoundError("subscription %s not found", key)
	}
	entry, ok := perSession[key]
	if !ok {
		return Listener{}, common.NewNotFoundError("subscription %s not found", key)
	}
	r.drop(entry)
	return *entry, nil
}

// UnregisterID remove a registration by its subscription ID
func (r *registryImpl) UnregisterID(subscriptionID string) (Listener, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	entry, ok := r.byID[subscriptionID]
	if !ok {
		return Listener{}, common.NewNotFoundError("subscription %s not found", subscriptionID)
	}
	r.drop(entry)
	return *entry, nil
}

// Listeners snapshot of the listeners currently registered for a key
func (r *registryImpl) Listeners(key string) []Listener {
	r.lock.RLock()
	defer r.lock.RUnlock()

	perKey := r.byKey[key]
	result := make([]Listener, 0, len(perKey))
	for _, entry := range perKey {
		result = append(result, *entry)
	}
	return result
}

// SessionListeners snapshot of the registrations held by a session
func (r *registryImpl) SessionListeners(sessionID string) []Listener {
	r.lock.RLock()
	defer r.lock.RUnlock()

	perSession := r.bySession[sessionID]
	result := make([]Listener, 0, len(perSession))
	for _, entry := range perSession {
		result = append(result, *entry)
	}
	return result
}

// RemoveSession remove every registration held by a session
func (r *registryImpl) RemoveSession(sessionID string) int {
	r.lock.Lock()
	defer r.lock.Unlock()

	perSession, ok := r.bySession[sessionID]
	if !ok {
		return 0
	}
	entries := make([]*Listener, 0, len(perSession))
	for _, entry := range perSession {
		entries = append(entries, entry)
	}
	for _, entry := range entries {
		r.drop(entry)
	}
	return len(entries)
}

// SubscriptionCount number of active registrations
func (r *registryImpl) SubscriptionCount() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.byID)
}
