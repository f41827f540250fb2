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

package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/observatory/pkg/kv"
	"github.com/carverauto/observatory/pkg/logger"
	"github.com/carverauto/observatory/pkg/models"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()

	return New(kv.NewMemoryStore(), logger.NewTestLogger())
}

func createDevice(t *testing.T, r *Registry, kind models.DeviceKind, name string) string {
	t.Helper()

	id, err := r.CreateDevice(context.Background(), &models.DeviceRecord{
		Resource: models.Resource{Name: name},
		Kind:     kind,
	})
	require.NoError(t, err)

	return id
}

func TestDevicesAndModels(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	modelID, err := r.CreateModel(ctx, models.DeviceKindInstrument, &models.ModelRecord{
		Resource:     models.Resource{Name: "SBE37IMModel"},
		Manufacturer: "Sea-Bird",
	})
	require.NoError(t, err)

	id, err := r.CreateDevice(ctx, &models.DeviceRecord{
		Resource:     models.Resource{Name: "CTD_SBE37_SIM_01", AltIDs: []string{"PRE:SBE37_SIM_01"}},
		Kind:         models.DeviceKindInstrument,
		ModelID:      modelID,
		SerialNumber: "12345",
	})
	require.NoError(t, err)

	d, err := r.ReadDevice(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ResourceInstrumentDevice, d.Type)
	assert.Equal(t, "12345", d.SerialNumber)
	assert.False(t, d.CreatedAt.IsZero())

	objects, err := r.FindObjects(ctx, id, models.PredicateHasModel)
	require.NoError(t, err)
	assert.Equal(t, []string{modelID}, objects)

	subjects, err := r.FindSubjects(ctx, models.PredicateHasModel, modelID)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, subjects)

	found, err := r.FindByAltID(ctx, models.ResourceInstrumentDevice, "PRE:SBE37_SIM_01")
	require.NoError(t, err)
	assert.Equal(t, []string{id}, found)

	found, err = r.FindByAltID(ctx, models.ResourcePlatformDevice, "PRE:SBE37_SIM_01")
	require.NoError(t, err)
	assert.Empty(t, found)

	_, err = r.ReadDevice(ctx, modelID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCreateAndReadErrors(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{
			name: "unknown device",
			run:  func() error { _, err := r.ReadDevice(ctx, "missing"); return err },
			want: ErrNotFound,
		},
		{
			name: "id unusable as key",
			run:  func() error { _, err := r.ReadDevice(ctx, "a.b"); return err },
			want: ErrNotFound,
		},
		{
			name: "device without kind",
			run: func() error {
				_, err := r.CreateDevice(ctx, &models.DeviceRecord{Resource: models.Resource{Name: "x"}})
				return err
			},
			want: ErrInvalidResource,
		},
		{
			name: "device without name",
			run: func() error {
				_, err := r.CreateDevice(ctx, &models.DeviceRecord{Kind: models.DeviceKindPlatform})
				return err
			},
			want: ErrInvalidResource,
		},
		{
			name: "device with unknown model",
			run: func() error {
				_, err := r.CreateDevice(ctx, &models.DeviceRecord{
					Resource: models.Resource{Name: "x"}, Kind: models.DeviceKindPlatform, ModelID: "nope",
				})
				return err
			},
			want: ErrNotFound,
		},
		{
			name: "duplicate id",
			run: func() error {
				d := &models.DeviceRecord{Resource: models.Resource{ID: "fixed", Name: "x"}, Kind: models.DeviceKindPlatform}
				if _, err := r.CreateDevice(ctx, d); err != nil {
					return err
				}

				_, err := r.CreateDevice(ctx, &models.DeviceRecord{Resource: models.Resource{ID: "fixed", Name: "y"}, Kind: models.DeviceKindPlatform})
				return err
			},
			want: kv.ErrKeyExists,
		},
		{
			name: "association to unknown object",
			run: func() error {
				id := createDevice(t, r, models.DeviceKindPlatform, "p")
				return r.CreateAssociation(ctx, id, models.PredicateHasDevice, "ghost")
			},
			want: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, tt.run(), tt.want)
		})
	}
}

func TestAgentInstances(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	deviceID := createDevice(t, r, models.DeviceKindPlatform, "LJ01D")

	defID, err := r.CreateAgentDefinition(ctx, models.DeviceKindPlatform, &models.AgentDefinition{
		Resource:             models.Resource{Name: "PlatformAgent"},
		StreamConfigurations: []models.StreamConfig{{StreamName: "parsed", ParameterDictionary: "platform_eng_parsed"}},
	})
	require.NoError(t, err)

	instID, err := r.CreateAgentInstance(ctx, &models.AgentInstance{
		Resource:     models.Resource{Name: "LJ01D agent"},
		DeviceID:     deviceID,
		DefinitionID: defID,
		AgentConfig:  map[string]interface{}{"platform_config": map[string]interface{}{"platform_id": "LJ01D"}},
	})
	require.NoError(t, err)

	inst, err := r.AgentInstanceOf(ctx, deviceID)
	require.NoError(t, err)
	assert.Equal(t, instID, inst.ID)
	assert.Equal(t, models.ResourcePlatformAgentInstance, inst.Type)

	defs, err := r.FindObjects(ctx, instID, models.PredicateHasAgentDefinition)
	require.NoError(t, err)
	assert.Equal(t, []string{defID}, defs)

	def, err := r.ReadAgentDefinition(ctx, defID)
	require.NoError(t, err)
	assert.Len(t, def.StreamConfigurations, 1)

	_, err = r.CreateAgentInstance(ctx, &models.AgentInstance{
		Resource: models.Resource{Name: "orphan"}, DeviceID: deviceID, DefinitionID: deviceID,
	})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = r.AgentInstanceOf(ctx, defID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAssignments(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	parent := createDevice(t, r, models.DeviceKindPlatform, "MJ01C")
	child := createDevice(t, r, models.DeviceKindPlatform, "LJ01D")
	instrument := createDevice(t, r, models.DeviceKindInstrument, "SBE37_SIM_01")

	require.NoError(t, r.AssignChildPlatform(ctx, child, parent))
	require.NoError(t, r.AssignInstrumentToPlatform(ctx, instrument, child))
	require.NoError(t, r.AssignInstrumentToPlatform(ctx, instrument, child))

	instruments, err := r.InstrumentsOf(ctx, child)
	require.NoError(t, err)
	assert.Equal(t, []string{instrument}, instruments)

	instruments, err = r.InstrumentsOf(ctx, parent)
	require.NoError(t, err)
	assert.Empty(t, instruments)

	children, err := r.ChildPlatformsOf(ctx, parent)
	require.NoError(t, err)
	assert.Equal(t, []string{child}, children)

	require.ErrorIs(t, r.AssignInstrumentToPlatform(ctx, child, parent), ErrInvalidResource)
	require.ErrorIs(t, r.AssignChildPlatform(ctx, instrument, parent), ErrInvalidResource)
	require.ErrorIs(t, r.AssignInstrumentToPlatform(ctx, instrument, "ghost"), ErrNotFound)
}

func TestDataProducts(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	deviceID := createDevice(t, r, models.DeviceKindInstrument, "SBE37_SIM_02")

	for _, name := range []string{"raw", "parsed"} {
		_, err := r.CreateDataProduct(ctx, deviceID, &models.DataProduct{
			Resource:            models.Resource{Name: name},
			StreamName:          name,
			ParameterDictionary: "ctd_" + name + "_param_dict",
		})
		require.NoError(t, err)
	}

	products, err := r.DataProductsOf(ctx, deviceID)
	require.NoError(t, err)
	require.Len(t, products, 2)

	for _, p := range products {
		assert.NotEmpty(t, p.StreamID)
	}
}

func TestAssignmentNotVisible(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	store := kv.NewMockStore(ctrl)
	r := New(store, logger.NewTestLogger())

	platform := []byte(`{"id":"p","type":"PlatformDevice","name":"p","kind":"PlatformDevice"}`)
	instrument := []byte(`{"id":"i","type":"InstrumentDevice","name":"i","kind":"InstrumentDevice"}`)

	store.EXPECT().Get(gomock.Any(), "resources.i").Return(instrument, true, nil).AnyTimes()
	store.EXPECT().Get(gomock.Any(), "resources.p").Return(platform, true, nil).AnyTimes()
	store.EXPECT().PutMany(gomock.Any(), gomock.Len(2), gomock.Any()).Return(nil)
	// The write is acknowledged but never shows up.
	store.EXPECT().Keys(gomock.Any(), "assoc.p.hasDevice.").Return(nil, nil)

	require.ErrorIs(t, r.AssignInstrumentToPlatform(ctx, "i", "p"), ErrAssignmentNotVisible)
}

func TestStoreErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	store := kv.NewMockStore(ctrl)
	r := New(store, logger.NewTestLogger())

	errDown := errors.New("kv down")

	store.EXPECT().Get(gomock.Any(), "resources.d").Return(nil, false, errDown)
	store.EXPECT().Keys(gomock.Any(), gomock.Any()).Return(nil, errDown)

	_, err := r.ReadDevice(ctx, "d")
	require.ErrorIs(t, err, errDown)

	_, err = r.FindSubjects(ctx, models.PredicateHasDevice, "d")
	require.ErrorIs(t, err, errDown)
}
