/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Phase describes the coarse lifecycle state of an externally owned resource.
// +kubebuilder:validation:Enum=Provisioning;Pending;Ready;Error
type Phase string

const (
	// PhaseProvisioning means the external resource has been requested but the
	// provider has not yet reported it as available.
	PhaseProvisioning Phase = "Provisioning"

	// PhasePending means the resource exists but late-initialized defaults are
	// still being populated by the provider.
	PhasePending Phase = "Pending"

	// PhaseReady means the resource exists and its record is fully settled.
	PhaseReady Phase = "Ready"

	// PhaseError means the last reconciliation failed.
	PhaseError Phase = "Error"
)

// BackupSpec groups the provider-managed backup settings.
type BackupSpec struct {
	// RetentionDays is the number of days automatic backups are kept.
	// Assigned by the provider when unset.
	// +kubebuilder:validation:Minimum=0
	// +kubebuilder:validation:Maximum=35
	// +optional
	RetentionDays *int32 `json:"retentionDays,omitempty"`

	// Window is the daily backup window in "HH:MM-HH:MM" UTC.
	// Assigned by the provider when unset.
	// +kubebuilder:validation:Pattern="^[0-9]{2}:[0-9]{2}-[0-9]{2}:[0-9]{2}$"
	// +optional
	Window string `json:"window,omitempty"`
}

// CacheInstanceSpec defines the desired state of CacheInstance.
//
// Fields marked as provider-assigned are optional on purpose: when the user
// leaves them unset, the late-initialization engine copies the value the
// provider assigned at (or after) creation, exactly once. A field the user
// did set is never overwritten by a provider default.
type CacheInstanceSpec struct {
	// Engine is the cache engine to provision.
	// +kubebuilder:validation:Enum=redis;valkey;memcached
	Engine string `json:"engine"`

	// EngineVersion is the engine version. Assigned by the provider when unset.
	// +kubebuilder:validation:MaxLength=32
	// +optional
	EngineVersion string `json:"engineVersion,omitempty"`

	// InstanceClass is the provider instance class (e.g. cache.m1.small).
	// +kubebuilder:validation:MaxLength=63
	InstanceClass string `json:"instanceClass"`

	// NodeCount is the number of cache nodes.
	// +kubebuilder:validation:Minimum=1
	// +kubebuilder:validation:Maximum=64
	// +optional
	NodeCount *int32 `json:"nodeCount,omitempty"`

	// TimeoutSeconds is the client idle timeout. Assigned by the provider
	// when unset.
	// +kubebuilder:validation:Minimum=0
	// +optional
	TimeoutSeconds *int64 `json:"timeoutSeconds,omitempty"`

	// MaintenanceWindow is the weekly maintenance window in
	// "ddd:HH:MM-ddd:HH:MM" UTC. Assigned by the provider when unset.
	// +kubebuilder:validation:MaxLength=63
	// +optional
	MaintenanceWindow string `json:"maintenanceWindow,omitempty"`

	// Parameters are engine parameter overrides. Individual keys the user did
	// not set may be filled in with provider defaults.
	// +kubebuilder:validation:MaxProperties=64
	// +optional
	Parameters map[string]string `json:"parameters,omitempty"`

	// Backup holds the backup configuration.
	// +optional
	Backup BackupSpec `json:"backup,omitempty"`
}

// CacheInstanceStatus defines the observed state of CacheInstance.
type CacheInstanceStatus struct {
	// Conditions represent the latest available observations.
	// +optional
	Conditions []metav1.Condition `json:"conditions,omitempty"`

	// Phase is a coarse summary of the resource lifecycle.
	// +optional
	Phase Phase `json:"phase,omitempty"`

	// ProviderID is the identifier the external provider assigned on creation.
	// +kubebuilder:validation:MaxLength=255
	// +optional
	ProviderID string `json:"providerID,omitempty"`

	// Endpoint is the connection endpoint reported by the provider.
	// +kubebuilder:validation:MaxLength=255
	// +optional
	Endpoint string `json:"endpoint,omitempty"`

	// ObservedGeneration is the spec generation last acted upon.
	// +optional
	ObservedGeneration int64 `json:"observedGeneration,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:printcolumn:name="Engine",type="string",JSONPath=".spec.engine"
// +kubebuilder:printcolumn:name="Phase",type="string",JSONPath=".status.phase"
// +kubebuilder:printcolumn:name="Endpoint",type="string",JSONPath=".status.endpoint"

// CacheInstance is the Schema for the cacheinstances API.
type CacheInstance struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   CacheInstanceSpec   `json:"spec,omitempty"`
	Status CacheInstanceStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// CacheInstanceList contains a list of CacheInstance.
type CacheInstanceList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []CacheInstance `json:"items"`
}

func init() {
	SchemeBuilder.Register(&CacheInstance{}, &CacheInstanceList{})
}
