package reconcile

import (
	"bytes"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/yaml"
)

// DefaultPlaceholder is the marker substituted with the desired image
// reference when a workload is materialized from its template.
const DefaultPlaceholder = "__IMAGE_PLACEHOLDER__"

// RenderManifest substitutes every occurrence of placeholder in the template
// with imageRef. A template without the placeholder is malformed: the
// materialized workload would not run the requested artifact.
func RenderManifest(template []byte, placeholder, imageRef string) ([]byte, error) {
	if len(template) == 0 {
		return nil, fmt.Errorf("manifest template is empty")
	}
	if !bytes.Contains(template, []byte(placeholder)) {
		return nil, fmt.Errorf("manifest template does not contain placeholder %q", placeholder)
	}
	return bytes.ReplaceAll(template, []byte(placeholder), []byte(imageRef)), nil
}

// DecodeDeployment parses a rendered workload manifest.
func DecodeDeployment(manifest []byte) (*appsv1.Deployment, error) {
	var deployment appsv1.Deployment
	if err := yaml.UnmarshalStrict(manifest, &deployment); err != nil {
		return nil, fmt.Errorf("decoding workload manifest: %w", err)
	}
	return &deployment, nil
}

// DecodeService parses the optional secondary service manifest.
func DecodeService(manifest []byte) (*corev1.Service, error) {
	var service corev1.Service
	if err := yaml.UnmarshalStrict(manifest, &service); err != nil {
		return nil, fmt.Errorf("decoding service manifest: %w", err)
	}
	return &service, nil
}
