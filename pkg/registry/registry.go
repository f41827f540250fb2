/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package registry stores device, model, agent and data product records and
// the associations between them.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carverauto/observatory/pkg/kv"
	"github.com/carverauto/observatory/pkg/logger"
	"github.com/carverauto/observatory/pkg/models"
)

const (
	resourcePrefix = "resources."
	assocPrefix    = "assoc."
	reversePrefix  = "assoc_rev."
	altIDPrefix    = "altid."
)

// Association links a subject record to an object record.
type Association struct {
	Subject   string           `json:"subject"`
	Predicate models.Predicate `json:"predicate"`
	Object    string           `json:"object"`
	CreatedAt time.Time        `json:"created_at"`
}

// Registry is the resource registry. Records are JSON values under
// resources.<id>; associations are indexed in both directions.
type Registry struct {
	store  kv.Store
	logger logger.Logger
	now    func() time.Time
}

func New(store kv.Store, log logger.Logger) *Registry {
	return &Registry{
		store:  store,
		logger: log,
		now:    time.Now,
	}
}

// token makes s usable inside a key.
func token(s string) string {
	var b strings.Builder

	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	return b.String()
}

func validID(id string) bool {
	return id != "" && token(id) == id
}

func (r *Registry) stamp(res *models.Resource, rtype models.ResourceType) error {
	if res.Name == "" {
		return fmt.Errorf("%w: %s without name", ErrInvalidResource, rtype)
	}

	if res.ID == "" {
		res.ID = uuid.New().String()
	} else if !validID(res.ID) {
		return fmt.Errorf("%w: id %q", ErrInvalidResource, res.ID)
	}

	res.Type = rtype

	if res.CreatedAt.IsZero() {
		res.CreatedAt = r.now().UTC()
	}

	return nil
}

func (r *Registry) create(ctx context.Context, res *models.Resource, record interface{}) (string, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s %s: %w", res.Type, res.Name, err)
	}

	if err := r.store.Create(ctx, resourcePrefix+res.ID, data, 0); err != nil {
		return "", fmt.Errorf("failed to store %s %s: %w", res.Type, res.Name, err)
	}

	for _, alt := range res.AltIDs {
		key := altIDPrefix + string(res.Type) + "." + token(alt) + "." + res.ID
		if err := r.store.Put(ctx, key, []byte(res.ID), 0); err != nil {
			return "", fmt.Errorf("failed to index alt id %s: %w", alt, err)
		}
	}

	r.logger.Debug().Str("id", res.ID).Str("type", string(res.Type)).Str("name", res.Name).Msg("Created resource")

	return res.ID, nil
}

// read decodes the record id into out, checking its type is one of types.
func (r *Registry) read(ctx context.Context, id string, out interface{}, types ...models.ResourceType) error {
	if !validID(id) {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	data, found, err := r.store.Get(ctx, resourcePrefix+id)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", id, err)
	}

	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	var header models.Resource
	if err := json.Unmarshal(data, &header); err != nil {
		return fmt.Errorf("failed to decode %s: %w", id, err)
	}

	if !typeIn(header.Type, types) {
		return fmt.Errorf("%w: %s is a %s", ErrNotFound, id, header.Type)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", id, err)
	}

	return nil
}

func typeIn(t models.ResourceType, types []models.ResourceType) bool {
	for _, want := range types {
		if t == want {
			return true
		}
	}

	return false
}

// CreateModel stores a platform or instrument model.
func (r *Registry) CreateModel(ctx context.Context, kind models.DeviceKind, m *models.ModelRecord) (string, error) {
	rtype := models.ResourcePlatformModel
	if kind == models.DeviceKindInstrument {
		rtype = models.ResourceInstrumentModel
	}

	if err := r.stamp(&m.Resource, rtype); err != nil {
		return "", err
	}

	return r.create(ctx, &m.Resource, m)
}

// CreateDevice stores a device. A model id, when set, must name a stored
// model and is linked with hasModel.
func (r *Registry) CreateDevice(ctx context.Context, d *models.DeviceRecord) (string, error) {
	var rtype models.ResourceType

	switch d.Kind {
	case models.DeviceKindPlatform:
		rtype = models.ResourcePlatformDevice
	case models.DeviceKindInstrument:
		rtype = models.ResourceInstrumentDevice
	default:
		return "", fmt.Errorf("%w: device kind %q", ErrInvalidResource, d.Kind)
	}

	if d.ModelID != "" {
		var m models.ModelRecord
		if err := r.read(ctx, d.ModelID, &m, models.ResourcePlatformModel, models.ResourceInstrumentModel); err != nil {
			return "", fmt.Errorf("model of device %s: %w", d.Name, err)
		}
	}

	if err := r.stamp(&d.Resource, rtype); err != nil {
		return "", err
	}

	id, err := r.create(ctx, &d.Resource, d)
	if err != nil {
		return "", err
	}

	if d.ModelID != "" {
		if err := r.CreateAssociation(ctx, id, models.PredicateHasModel, d.ModelID); err != nil {
			return "", err
		}
	}

	return id, nil
}

func (r *Registry) ReadDevice(ctx context.Context, id string) (*models.DeviceRecord, error) {
	var d models.DeviceRecord
	if err := r.read(ctx, id, &d, models.ResourcePlatformDevice, models.ResourceInstrumentDevice); err != nil {
		return nil, err
	}

	return &d, nil
}

// CreateAgentDefinition stores the agent that drives devices of kind.
func (r *Registry) CreateAgentDefinition(ctx context.Context, kind models.DeviceKind, def *models.AgentDefinition) (string, error) {
	rtype := models.ResourcePlatformAgent
	if kind == models.DeviceKindInstrument {
		rtype = models.ResourceInstrumentAgent
	}

	if err := r.stamp(&def.Resource, rtype); err != nil {
		return "", err
	}

	return r.create(ctx, &def.Resource, def)
}

func (r *Registry) ReadAgentDefinition(ctx context.Context, id string) (*models.AgentDefinition, error) {
	var def models.AgentDefinition
	if err := r.read(ctx, id, &def, models.ResourcePlatformAgent, models.ResourceInstrumentAgent); err != nil {
		return nil, err
	}

	return &def, nil
}

// CreateAgentInstance stores an agent instance and links it to its device
// (hasAgentInstance) and definition (hasAgentDefinition).
func (r *Registry) CreateAgentInstance(ctx context.Context, inst *models.AgentInstance) (string, error) {
	device, err := r.ReadDevice(ctx, inst.DeviceID)
	if err != nil {
		return "", fmt.Errorf("device of agent instance %s: %w", inst.Name, err)
	}

	def, err := r.ReadAgentDefinition(ctx, inst.DefinitionID)
	if err != nil {
		return "", fmt.Errorf("definition of agent instance %s: %w", inst.Name, err)
	}

	rtype := models.ResourcePlatformAgentInstance
	if device.Kind == models.DeviceKindInstrument {
		rtype = models.ResourceInstrumentAgentInstance
	}

	if err := r.stamp(&inst.Resource, rtype); err != nil {
		return "", err
	}

	id, err := r.create(ctx, &inst.Resource, inst)
	if err != nil {
		return "", err
	}

	if err := r.CreateAssociation(ctx, device.ID, models.PredicateHasAgentInstance, id); err != nil {
		return "", err
	}

	if err := r.CreateAssociation(ctx, id, models.PredicateHasAgentDefinition, def.ID); err != nil {
		return "", err
	}

	return id, nil
}

func (r *Registry) ReadAgentInstance(ctx context.Context, id string) (*models.AgentInstance, error) {
	var inst models.AgentInstance
	if err := r.read(ctx, id, &inst, models.ResourcePlatformAgentInstance, models.ResourceInstrumentAgentInstance); err != nil {
		return nil, err
	}

	return &inst, nil
}

// AgentInstanceOf returns the agent instance of a device.
func (r *Registry) AgentInstanceOf(ctx context.Context, deviceID string) (*models.AgentInstance, error) {
	ids, err := r.FindObjects(ctx, deviceID, models.PredicateHasAgentInstance)
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: agent instance of %s", ErrNotFound, deviceID)
	}

	return r.ReadAgentInstance(ctx, ids[0])
}

// CreateDataProduct stores an output product of deviceID and links it with hasOutputProduct.
func (r *Registry) CreateDataProduct(ctx context.Context, deviceID string, p *models.DataProduct) (string, error) {
	if _, err := r.ReadDevice(ctx, deviceID); err != nil {
		return "", fmt.Errorf("device of data product %s: %w", p.Name, err)
	}

	if err := r.stamp(&p.Resource, models.ResourceDataProduct); err != nil {
		return "", err
	}

	if p.StreamID == "" {
		p.StreamID = uuid.New().String()
	}

	id, err := r.create(ctx, &p.Resource, p)
	if err != nil {
		return "", err
	}

	if err := r.CreateAssociation(ctx, deviceID, models.PredicateHasOutputProduct, id); err != nil {
		return "", err
	}

	return id, nil
}

// DataProductsOf returns the output products of deviceID.
func (r *Registry) DataProductsOf(ctx context.Context, deviceID string) ([]*models.DataProduct, error) {
	ids, err := r.FindObjects(ctx, deviceID, models.PredicateHasOutputProduct)
	if err != nil {
		return nil, err
	}

	out := make([]*models.DataProduct, 0, len(ids))

	for _, id := range ids {
		var p models.DataProduct
		if err := r.read(ctx, id, &p, models.ResourceDataProduct); err != nil {
			return nil, err
		}

		out = append(out, &p)
	}

	return out, nil
}

// FindByAltID returns the ids of records of rtype carrying altID.
func (r *Registry) FindByAltID(ctx context.Context, rtype models.ResourceType, altID string) ([]string, error) {
	prefix := altIDPrefix + string(rtype) + "." + token(altID) + "."

	keys, err := r.store.Keys(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to look up alt id %s: %w", altID, err)
	}

	return trimAll(keys, prefix), nil
}

func assocKey(subject string, predicate models.Predicate, object string) string {
	return assocPrefix + subject + "." + string(predicate) + "." + object
}

func reverseKey(object string, predicate models.Predicate, subject string) string {
	return reversePrefix + object + "." + string(predicate) + "." + subject
}

// CreateAssociation links subject to object. Both must exist; repeating an
// association is a no-op.
func (r *Registry) CreateAssociation(ctx context.Context, subject string, predicate models.Predicate, object string) error {
	for _, id := range []string{subject, object} {
		if !validID(id) {
			return fmt.Errorf("%w: %q", ErrNotFound, id)
		}

		if _, found, err := r.store.Get(ctx, resourcePrefix+id); err != nil {
			return fmt.Errorf("failed to read %s: %w", id, err)
		} else if !found {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
	}

	data, err := json.Marshal(Association{Subject: subject, Predicate: predicate, Object: object, CreatedAt: r.now().UTC()})
	if err != nil {
		return err
	}

	err = r.store.PutMany(ctx, []kv.KeyValueEntry{
		{Key: assocKey(subject, predicate, object), Value: data},
		{Key: reverseKey(object, predicate, subject), Value: data},
	}, 0)
	if err != nil {
		return fmt.Errorf("failed to store %s %s %s: %w", subject, predicate, object, err)
	}

	return nil
}

// FindObjects returns the objects subject is associated with through predicate.
func (r *Registry) FindObjects(ctx context.Context, subject string, predicate models.Predicate) ([]string, error) {
	prefix := assocPrefix + subject + "." + string(predicate) + "."

	keys, err := r.store.Keys(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s of %s: %w", predicate, subject, err)
	}

	return trimAll(keys, prefix), nil
}

// FindSubjects returns the subjects associated with object through predicate.
func (r *Registry) FindSubjects(ctx context.Context, predicate models.Predicate, object string) ([]string, error) {
	prefix := reversePrefix + object + "." + string(predicate) + "."

	keys, err := r.store.Keys(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to find subjects %s %s: %w", predicate, object, err)
	}

	return trimAll(keys, prefix), nil
}

func trimAll(keys []string, prefix string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, prefix))
	}

	return out
}

func (r *Registry) requireKind(ctx context.Context, id string, kind models.DeviceKind) error {
	d, err := r.ReadDevice(ctx, id)
	if err != nil {
		return err
	}

	if d.Kind != kind {
		return fmt.Errorf("%w: %s is a %s, not a %s", ErrInvalidResource, id, d.Kind, kind)
	}

	return nil
}

// AssignInstrumentToPlatform attaches an instrument device to a platform
// device and checks the platform then reports at least one instrument.
func (r *Registry) AssignInstrumentToPlatform(ctx context.Context, instrumentID, platformID string) error {
	if err := r.requireKind(ctx, instrumentID, models.DeviceKindInstrument); err != nil {
		return err
	}

	if err := r.requireKind(ctx, platformID, models.DeviceKindPlatform); err != nil {
		return err
	}

	if err := r.CreateAssociation(ctx, platformID, models.PredicateHasDevice, instrumentID); err != nil {
		return err
	}

	ids, err := r.InstrumentsOf(ctx, platformID)
	if err != nil {
		return err
	}

	if len(ids) == 0 {
		return fmt.Errorf("%w: no instruments on %s", ErrAssignmentNotVisible, platformID)
	}

	r.logger.Debug().Str("instrument_id", instrumentID).Str("platform_id", platformID).Msg("Assigned instrument")

	return nil
}

// AssignChildPlatform makes childID a sub-platform of parentID.
func (r *Registry) AssignChildPlatform(ctx context.Context, childID, parentID string) error {
	if err := r.requireKind(ctx, childID, models.DeviceKindPlatform); err != nil {
		return err
	}

	if err := r.requireKind(ctx, parentID, models.DeviceKindPlatform); err != nil {
		return err
	}

	return r.CreateAssociation(ctx, parentID, models.PredicateHasDevice, childID)
}

// InstrumentsOf returns the instrument devices attached to platformID.
func (r *Registry) InstrumentsOf(ctx context.Context, platformID string) ([]string, error) {
	return r.devicesOf(ctx, platformID, models.DeviceKindInstrument)
}

// ChildPlatformsOf returns the sub-platform devices of platformID.
func (r *Registry) ChildPlatformsOf(ctx context.Context, platformID string) ([]string, error) {
	return r.devicesOf(ctx, platformID, models.DeviceKindPlatform)
}

func (r *Registry) devicesOf(ctx context.Context, platformID string, kind models.DeviceKind) ([]string, error) {
	ids, err := r.FindObjects(ctx, platformID, models.PredicateHasDevice)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(ids))

	for _, id := range ids {
		d, err := r.ReadDevice(ctx, id)
		if err != nil {
			return nil, err
		}

		if d.Kind == kind {
			out = append(out, id)
		}
	}

	return out, nil
}
