package cacheinstance

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/equality"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller"
	"sigs.k8s.io/controller-runtime/pkg/log"

	cloudv1alpha1 "github.com/numtide/external-resource-operator/api/v1alpha1"
	"github.com/numtide/external-resource-operator/pkg/fieldpath"
	"github.com/numtide/external-resource-operator/pkg/lateinit"
	"github.com/numtide/external-resource-operator/pkg/monitoring"
	"github.com/numtide/external-resource-operator/pkg/provider"
	"github.com/numtide/external-resource-operator/pkg/util/annotations"
	"github.com/numtide/external-resource-operator/pkg/util/status"
)

const (
	finalizerName = "cacheinstance.cloud.numtide.com/finalizer"

	// resourceType keys this controller's rules in the late-init registry.
	resourceType = "CacheInstance"
)

// CacheInstanceReconciler reconciles CacheInstance resources against the
// external provider that owns them.
//
// Each pass ensures the external resource exists, collects the provider's
// observations (create/read/update output), lets the late-initialization
// engine fill in provider-assigned defaults the user left unset, and decides
// the minimal patch to persist. Defaults the provider has not surfaced yet
// put the resource into a durable pending state with a bounded requeue
// instead of surfacing as failures.
type CacheInstanceReconciler struct {
	client.Client
	Scheme   *runtime.Scheme
	Recorder record.EventRecorder

	// Provider is the client to the owning system.
	Provider provider.Provider

	// Rules is the compiled late-initialization configuration.
	Rules *lateinit.Registry

	// Tracker drives the pending marker lifecycle and requeue backoff.
	Tracker *lateinit.Tracker
}

// +kubebuilder:rbac:groups=cloud.numtide.com,resources=cacheinstances,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=cloud.numtide.com,resources=cacheinstances/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=cloud.numtide.com,resources=cacheinstances/finalizers,verbs=update
// +kubebuilder:rbac:groups="",resources=events,verbs=create;patch

// Reconcile handles one CacheInstance reconciliation pass.
func (r *CacheInstanceReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	start := time.Now()
	logger := log.FromContext(ctx)
	logger.V(1).Info("reconcile started")

	ctx, span := monitoring.StartReconcileSpan(ctx, "cacheinstance.Reconcile", req.Name, req.Namespace, resourceType)
	defer span.End()

	// Fetch the CacheInstance
	inst := &cloudv1alpha1.CacheInstance{}
	if err := r.Get(ctx, req.NamespacedName, inst); err != nil {
		if apierrors.IsNotFound(err) {
			logger.Info("CacheInstance resource not found, ignoring")
			return ctrl.Result{}, nil
		}
		logger.Error(err, "Failed to get CacheInstance")
		return ctrl.Result{}, err
	}

	// Handle deletion
	if !inst.DeletionTimestamp.IsZero() {
		return r.handleDeletion(ctx, inst)
	}

	// Add finalizer if not present
	if !slices.Contains(inst.Finalizers, finalizerName) {
		inst.Finalizers = append(inst.Finalizers, finalizerName)
		if err := r.Update(ctx, inst); err != nil {
			logger.Error(err, "Failed to add finalizer")
			return ctrl.Result{}, err
		}
		// Return without requeue - the Update will trigger a new reconciliation via watch
		return ctrl.Result{}, nil
	}

	// The pre-pass copy is only for the patch decision; the spec patch itself
	// bases on the live object after the status write.
	before := inst.DeepCopy()

	observations, err := r.observe(ctx, inst)
	if err != nil {
		monitoring.RecordSpanError(span, err)
		logger.Error(err, "Failed to observe external resource")
		return ctrl.Result{}, err
	}

	mergeStart := time.Now()
	res := r.mergeLateInitialized(inst, observations)
	monitoring.RecordMergeResult(resourceType, res, time.Since(mergeStart))

	if res.Err != nil && !errors.Is(res.Err, lateinit.ErrNotYetAvailable) {
		// Fatal: the in-memory record is tentatively mutated and must not be
		// persisted. Dropping it here leaves the stored record untouched.
		r.Recorder.Eventf(inst, corev1.EventTypeWarning, "MergeFailed",
			"Failed to merge late-initialized fields: %v", res.Err)
		monitoring.RecordSpanError(span, res.Err)
		logger.Error(res.Err, "Late-initialization merge failed")
		return ctrl.Result{}, res.Err
	}

	action := r.Tracker.OnMergeResult(inst, res)

	pending := annotations.IsLateInitPending(inst)
	phase := status.ComputePhase(inst.Status.ProviderID != "", pending)
	inst.Status.Phase = phase
	status.SetReadyCondition(inst, phase)
	inst.Status.ObservedGeneration = inst.Generation

	monitoring.SetInstanceInfo(inst.Name, inst.Namespace, string(phase))
	monitoring.SetLateInitPending(inst.Name, inst.Namespace, pending)

	if err := r.persist(ctx, before, inst); err != nil {
		monitoring.RecordSpanError(span, err)
		logger.Error(err, "Failed to persist CacheInstance")
		return ctrl.Result{}, err
	}

	logger.V(1).Info("reconcile complete", "duration", time.Since(start).String())

	switch action.Kind {
	case lateinit.ActionMarkPendingAndRequeue:
		r.Recorder.Event(inst, corev1.EventTypeNormal, "LateInitPending",
			"Waiting for provider-assigned defaults")
		return ctrl.Result{RequeueAfter: action.RequeueAfter}, nil
	case lateinit.ActionClearPendingAndContinue:
		r.Recorder.Event(inst, corev1.EventTypeNormal, "LateInitComplete",
			"Provider-assigned defaults merged")
	}
	return ctrl.Result{}, nil
}

// handleDeletion releases the external resource when the CacheInstance is
// being deleted.
func (r *CacheInstanceReconciler) handleDeletion(
	ctx context.Context,
	inst *cloudv1alpha1.CacheInstance,
) (ctrl.Result, error) {
	logger := log.FromContext(ctx)

	if slices.Contains(inst.Finalizers, finalizerName) {
		if inst.Status.ProviderID != "" {
			err := r.providerDelete(ctx, inst.Status.ProviderID)
			if err != nil && !errors.Is(err, provider.ErrNotFound) {
				r.Recorder.Eventf(inst, corev1.EventTypeWarning, "CleanupFailed",
					"Failed to delete external resource: %v", err)
				logger.Error(err, "Failed to delete external resource")
				return ctrl.Result{}, err
			}
			r.Recorder.Eventf(inst, corev1.EventTypeNormal, "Deleted",
				"Deleted external resource '%s'", inst.Status.ProviderID)
		}

		// Remove finalizer
		inst.Finalizers = slices.DeleteFunc(inst.Finalizers, func(s string) bool {
			return s == finalizerName
		})
		if err := r.Update(ctx, inst); err != nil {
			logger.Error(err, "Failed to remove finalizer")
			return ctrl.Result{}, err
		}
	}

	return ctrl.Result{}, nil
}

// observe ensures the external resource exists and collects this pass's
// observations, keyed by the provider operation that produced them.
//
// Provider output never touches the spec here; it reaches the desired record
// only through the merge engine.
func (r *CacheInstanceReconciler) observe(
	ctx context.Context,
	inst *cloudv1alpha1.CacheInstance,
) (lateinit.Observations, error) {
	logger := log.FromContext(ctx)
	obs := lateinit.Observations{}

	desired, err := fieldpath.ToUnstructured(&inst.Spec)
	if err != nil {
		return nil, err
	}

	if inst.Status.ProviderID == "" {
		created, err := r.providerCreate(ctx, inst.Name, desired)
		if err != nil {
			return nil, fmt.Errorf("failed to create external resource: %w", err)
		}
		inst.Status.ProviderID = created.ID
		inst.Status.Endpoint = created.Endpoint

		// The provider-assigned identity must not wait for the end-of-pass
		// persist: if anything later in the pass fails, a retry that never saw
		// the ID would create a second external resource and orphan this one.
		if err := r.Status().Update(ctx, inst); err != nil {
			return nil, fmt.Errorf("failed to record provider id %q: %w", created.ID, err)
		}
		obs[lateinit.SourceCreate] = created.Spec

		r.Recorder.Eventf(inst, corev1.EventTypeNormal, "Created",
			"Created external resource '%s'", created.ID)
		logger.Info("External resource created", "providerID", created.ID)
		return obs, nil
	}

	current, err := r.providerRead(ctx, inst.Status.ProviderID)
	if err != nil {
		if errors.Is(err, provider.ErrNotFound) {
			// The external resource vanished out from under us. Forget the
			// identity and recreate on the next pass.
			logger.Info("External resource no longer exists, will recreate",
				"providerID", inst.Status.ProviderID)
			inst.Status.ProviderID = ""
			inst.Status.Endpoint = ""
			return obs, nil
		}
		return nil, fmt.Errorf("failed to read external resource: %w", err)
	}
	inst.Status.Endpoint = current.Endpoint
	obs[lateinit.SourceRead] = current.Spec

	if fields := driftedFields(desired, current.Spec); len(fields) > 0 {
		logger.Info("Correcting drift on external resource", "fields", fields)
		updated, err := r.providerUpdate(ctx, inst.Status.ProviderID, desired)
		if err != nil {
			return nil, fmt.Errorf("failed to update external resource: %w", err)
		}
		obs[lateinit.SourceUpdate] = updated.Spec
		r.Recorder.Eventf(inst, corev1.EventTypeNormal, "Updated",
			"Corrected drift on fields %v", fields)
	}

	return obs, nil
}

// mergeLateInitialized runs the merge engine over the typed spec via its
// unstructured form. The merged form converts back into the typed spec only
// when something changed; a shape that does not fit the declared field types
// fails the pass before anything is persisted.
func (r *CacheInstanceReconciler) mergeLateInitialized(
	inst *cloudv1alpha1.CacheInstance,
	obs lateinit.Observations,
) lateinit.MergeResult {
	rs := r.Rules.ForResourceType(resourceType)
	if rs.IsNoOp() {
		return lateinit.MergeResult{}
	}

	specMap, err := fieldpath.ToUnstructured(&inst.Spec)
	if err != nil {
		return lateinit.MergeResult{Err: fmt.Errorf("%w: %w", lateinit.ErrMergeFailed, err)}
	}

	res := lateinit.Merge(specMap, obs, rs)
	if res.Err != nil && !errors.Is(res.Err, lateinit.ErrNotYetAvailable) {
		return res
	}

	if res.Changed {
		var merged cloudv1alpha1.CacheInstanceSpec
		if err := fieldpath.FromUnstructured(specMap, &merged); err != nil {
			res.Err = fmt.Errorf("%w: %w", lateinit.ErrMergeFailed, err)
			return res
		}
		inst.Spec = merged
	}
	return res
}

// persist writes back the minimal set of changes. The status subresource goes
// first; the spec patch then bases on the object the status write refreshed,
// so concurrent status-only updates are not clobbered.
func (r *CacheInstanceReconciler) persist(
	ctx context.Context,
	before, inst *cloudv1alpha1.CacheInstance,
) error {
	plan := lateinit.DecidePatch(
		lateinit.RecordView{Spec: before.Spec, Status: before.Status},
		lateinit.RecordView{Spec: inst.Spec, Status: inst.Status},
		false, // provider output reaches the spec only through the merge
	)

	// Marker set/clear lives in annotations, which persist with the main
	// object rather than the status subresource.
	metadataChanged := !equality.Semantic.DeepEqual(before.Annotations, inst.Annotations)

	switch plan {
	case lateinit.PatchSpecAndStatus:
		if err := r.Status().Update(ctx, inst); err != nil {
			return fmt.Errorf("failed to update status: %w", err)
		}
		if err := r.Update(ctx, inst); err != nil {
			return fmt.Errorf("failed to update spec: %w", err)
		}
	case lateinit.PatchStatusOnly:
		if err := r.Status().Update(ctx, inst); err != nil {
			return fmt.Errorf("failed to update status: %w", err)
		}
		if metadataChanged {
			if err := r.Update(ctx, inst); err != nil {
				return fmt.Errorf("failed to update metadata: %w", err)
			}
		}
	default:
		if metadataChanged {
			if err := r.Update(ctx, inst); err != nil {
				return fmt.Errorf("failed to update metadata: %w", err)
			}
		}
	}
	return nil
}

// driftedFields returns the top-level spec fields the user declared whose
// observed value differs. Comparison recurses only into keys present in
// desired: fields absent there are provider-owned and never count as drift,
// which is the whole point of the late-initialization flow.
func driftedFields(desired, observed map[string]any) []string {
	var fields []string
	for k, v := range desired {
		ov, ok := observed[k]
		if !ok || valueDrifts(v, ov) {
			fields = append(fields, k)
		}
	}
	slices.Sort(fields) // Sort for deterministic output
	return fields
}

func valueDrifts(desired, observed any) bool {
	dm, dok := desired.(map[string]any)
	om, ook := observed.(map[string]any)
	if dok && ook {
		for k, v := range dm {
			ov, ok := om[k]
			if !ok || valueDrifts(v, ov) {
				return true
			}
		}
		return false
	}
	return !equality.Semantic.DeepEqual(desired, observed)
}

// Provider call wrappers carrying metrics and tracing.

func (r *CacheInstanceReconciler) providerCreate(
	ctx context.Context,
	name string,
	spec map[string]any,
) (*provider.Instance, error) {
	ctx, span := monitoring.StartProviderSpan(ctx, "create", "")
	defer span.End()

	start := time.Now()
	inst, err := r.Provider.Create(ctx, provider.CreateRequest{Name: name, Spec: spec})
	monitoring.RecordProviderRequest("create", err, time.Since(start))
	monitoring.RecordSpanError(span, err)
	return inst, err
}

func (r *CacheInstanceReconciler) providerRead(
	ctx context.Context,
	id string,
) (*provider.Instance, error) {
	ctx, span := monitoring.StartProviderSpan(ctx, "read", id)
	defer span.End()

	start := time.Now()
	inst, err := r.Provider.Read(ctx, id)
	monitoring.RecordProviderRequest("read", err, time.Since(start))
	if !errors.Is(err, provider.ErrNotFound) {
		monitoring.RecordSpanError(span, err)
	}
	return inst, err
}

func (r *CacheInstanceReconciler) providerUpdate(
	ctx context.Context,
	id string,
	spec map[string]any,
) (*provider.Instance, error) {
	ctx, span := monitoring.StartProviderSpan(ctx, "update", id)
	defer span.End()

	start := time.Now()
	inst, err := r.Provider.Update(ctx, id, spec)
	monitoring.RecordProviderRequest("update", err, time.Since(start))
	monitoring.RecordSpanError(span, err)
	return inst, err
}

func (r *CacheInstanceReconciler) providerDelete(ctx context.Context, id string) error {
	ctx, span := monitoring.StartProviderSpan(ctx, "delete", id)
	defer span.End()

	start := time.Now()
	err := r.Provider.Delete(ctx, id)
	monitoring.RecordProviderRequest("delete", err, time.Since(start))
	if !errors.Is(err, provider.ErrNotFound) {
		monitoring.RecordSpanError(span, err)
	}
	return err
}

// SetupWithManager sets up the controller with the Manager.
func (r *CacheInstanceReconciler) SetupWithManager(mgr ctrl.Manager, opts ...controller.Options) error {
	controllerOpts := controller.Options{}
	if len(opts) > 0 {
		controllerOpts = opts[0]
	}

	return ctrl.NewControllerManagedBy(mgr).
		Named("cacheinstance").
		For(&cloudv1alpha1.CacheInstance{}).
		WithOptions(controllerOpts).
		Complete(r)
}
