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

// Package status provides utilities for managing and calculating the Phase
// and Status conditions of externally owned Custom Resources.
//
// It defines shared helper functions like ComputePhase to ensure consistent
// lifecycle reporting for resources whose actual state lives in an external
// provisioning system.
package status

import (
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	cloudv1alpha1 "github.com/numtide/external-resource-operator/api/v1alpha1"
)

// ConditionReady is the condition type summarizing resource availability.
const ConditionReady = "Ready"

// Condition reasons for ConditionReady.
const (
	ReasonProvisioning    = "Provisioning"
	ReasonLateInitPending = "LateInitializationPending"
	ReasonAvailable       = "Available"
	ReasonReconcileError  = "ReconcileError"
)

// ComputePhase determines the phase of an externally owned resource.
// provisioned means the provider has acknowledged the resource; pending means
// late-initialized defaults are still being populated.
func ComputePhase(provisioned, pending bool) cloudv1alpha1.Phase {
	if !provisioned {
		return cloudv1alpha1.PhaseProvisioning
	}
	if pending {
		return cloudv1alpha1.PhasePending
	}
	return cloudv1alpha1.PhaseReady
}

// SetReadyCondition updates the Ready condition on the instance to match the
// given phase.
func SetReadyCondition(inst *cloudv1alpha1.CacheInstance, phase cloudv1alpha1.Phase) {
	cond := metav1.Condition{
		Type:               ConditionReady,
		ObservedGeneration: inst.Generation,
	}

	switch phase {
	case cloudv1alpha1.PhaseReady:
		cond.Status = metav1.ConditionTrue
		cond.Reason = ReasonAvailable
		cond.Message = "external resource is provisioned and settled"
	case cloudv1alpha1.PhasePending:
		cond.Status = metav1.ConditionFalse
		cond.Reason = ReasonLateInitPending
		cond.Message = "waiting for provider-assigned defaults"
	case cloudv1alpha1.PhaseError:
		cond.Status = metav1.ConditionFalse
		cond.Reason = ReasonReconcileError
		cond.Message = "last reconciliation failed"
	default:
		cond.Status = metav1.ConditionFalse
		cond.Reason = ReasonProvisioning
		cond.Message = "waiting for the provider to acknowledge the resource"
	}

	meta.SetStatusCondition(&inst.Status.Conditions, cond)
}
