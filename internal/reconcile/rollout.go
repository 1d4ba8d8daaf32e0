package reconcile

import appsv1 "k8s.io/api/apps/v1"

// rolloutComplete reports whether every replica is updated and ready.
func rolloutComplete(d *appsv1.Deployment) bool {
	desired := int32(1)
	if d.Spec.Replicas != nil {
		desired = *d.Spec.Replicas
	}
	return d.Status.UpdatedReplicas >= desired &&
		d.Status.ReadyReplicas >= desired &&
		d.Status.AvailableReplicas >= desired
}

// rolloutFailed reports whether the control plane marked the rollout as
// unable to progress.
func rolloutFailed(d *appsv1.Deployment) (string, bool) {
	for _, condition := range d.Status.Conditions {
		if condition.Type != appsv1.DeploymentProgressing {
			continue
		}
		if condition.Status == "False" || condition.Reason == "ProgressDeadlineExceeded" {
			return condition.Reason, true
		}
	}
	return "", false
}
