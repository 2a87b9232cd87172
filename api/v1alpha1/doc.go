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

// Package v1alpha1 defines the API types for the External Resource Operator.
//
// This package contains the Go type definitions for the Custom Resources in
// the cloud.numtide.com API group. These types are used by kubebuilder to
// generate:
//   - CustomResourceDefinitions (CRDs)
//   - DeepCopy methods
//   - Client code
//
// # Custom Resources
//
//   - CacheInstance: the declarative record of a cache instance that is
//     provisioned and owned by an external system. The user declares intent in
//     the spec; the operator reconciles it against the provider and reports
//     progress in the status.
//
// A recurring property of externally owned resources is that the provider
// assigns defaults for optional spec fields only after creation, sometimes
// asynchronously. Fields the user left unset are therefore filled in backward
// from provider observations by the late-initialization engine; those fields
// stay optional in the schema so that absence remains distinguishable from a
// user-declared value.
//
// # Versioning
//
// This is the v1alpha1 version, indicating the API is in early development
// and may change in backward-incompatible ways.
package v1alpha1
