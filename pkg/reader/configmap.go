package reader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/resourceloader/pkg/locator"
)

// ConfigMapType is the reader type for Kubernetes ConfigMap keys
const ConfigMapType = "configmap"

// ConfigMapFactory builds readers for configmap:// URLs. It declines every
// locator when no Kubernetes client is configured.
type ConfigMapFactory struct {
	client           client.Reader
	defaultNamespace string
}

// NewConfigMapFactory creates a ConfigMap factory. k8sClient may be nil.
func NewConfigMapFactory(k8sClient client.Reader, defaultNamespace string) *ConfigMapFactory {
	if defaultNamespace == "" {
		defaultNamespace = "default"
	}
	return &ConfigMapFactory{
		client:           k8sClient,
		defaultNamespace: defaultNamespace,
	}
}

// Type returns the reader type
func (f *ConfigMapFactory) Type() string { return ConfigMapType }

// Schemes returns the schemes served by this factory
func (f *ConfigMapFactory) Schemes() []string { return []string{"configmap"} }

// Accepts reports whether loc is a configmap:// URL and a client is available
func (f *ConfigMapFactory) Accepts(loc locator.Locator) bool {
	return f.client != nil && acceptsScheme(loc, f.Schemes()...)
}

// New creates a ConfigMapReader.
// loc format: configmap://namespace/name/key or configmap:///name/key for the
// default namespace. The key may be omitted for single-key ConfigMaps.
func (f *ConfigMapFactory) New(loc locator.Locator) (Reader, error) {
	if f.client == nil {
		return nil, fmt.Errorf("no Kubernetes client configured for %s", loc.RawURL())
	}

	namespace, name, key, err := parseConfigMapRef(loc)
	if err != nil {
		return nil, fmt.Errorf("invalid ConfigMap reference: %w", err)
	}
	if namespace == "" {
		namespace = f.defaultNamespace
	}

	return &ConfigMapReader{
		loc:       loc,
		client:    f.client,
		namespace: namespace,
		name:      name,
		key:       key,
	}, nil
}

// parseConfigMapRef splits a configmap locator into namespace, name and key
func parseConfigMapRef(loc locator.Locator) (namespace, name, key string, err error) {
	parts := strings.SplitN(strings.TrimPrefix(loc.DecodedPath(), "/"), "/", 2)
	if parts[0] == "" {
		return "", "", "", fmt.Errorf("missing ConfigMap name in %s", loc.RawURL())
	}

	name = parts[0]
	if len(parts) == 2 {
		key = parts[1]
	}
	return loc.Host(), name, key, nil
}

// ConfigMapReader reads one key of a ConfigMap. Its fingerprint is the
// object's UID and resourceVersion.
type ConfigMapReader struct {
	loc       locator.Locator
	client    client.Reader
	namespace string
	name      string
	key       string
}

// Locator returns the bound locator
func (r *ConfigMapReader) Locator() locator.Locator { return r.loc }

// Type returns the reader type
func (r *ConfigMapReader) Type() string { return ConfigMapType }

func (r *ConfigMapReader) get(ctx context.Context) (*corev1.ConfigMap, error) {
	cm := &corev1.ConfigMap{}
	if err := r.client.Get(ctx, client.ObjectKey{
		Namespace: r.namespace,
		Name:      r.name,
	}, cm); err != nil {
		return nil, err
	}
	return cm, nil
}

// Fingerprint returns "<uid>:<resourceVersion>"
func (r *ConfigMapReader) Fingerprint(ctx context.Context) (string, error) {
	cm, err := r.get(ctx)
	if apierrors.IsNotFound(err) {
		log.FromContext(ctx).Info("ConfigMap not found while probing fingerprint",
			"namespace", r.namespace, "name", r.name)
		return "", fmt.Errorf("%w: ConfigMap %s/%s not found", ErrFingerprintUnavailable, r.namespace, r.name)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get ConfigMap %s/%s: %w", r.namespace, r.name, err)
	}

	return string(cm.UID) + ":" + cm.ResourceVersion, nil
}

// Open returns the value stored under the key
func (r *ConfigMapReader) Open(ctx context.Context) (io.ReadCloser, error) {
	cm, err := r.get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get ConfigMap %s/%s: %w", r.namespace, r.name, err)
	}

	content, err := extractConfigMapKey(cm, r.key)
	if err != nil {
		return nil, err
	}

	return io.NopCloser(bytes.NewReader(content)), nil
}

// extractConfigMapKey looks the key up in Data, then BinaryData. With no key
// the ConfigMap must hold exactly one entry.
func extractConfigMapKey(cm *corev1.ConfigMap, key string) ([]byte, error) {
	if key == "" {
		keys := make([]string, 0, len(cm.Data)+len(cm.BinaryData))
		for k := range cm.Data {
			keys = append(keys, k)
		}
		for k := range cm.BinaryData {
			keys = append(keys, k)
		}
		if len(keys) != 1 {
			sort.Strings(keys)
			return nil, fmt.Errorf("ConfigMap %s/%s has keys %v, a key must be given", cm.Namespace, cm.Name, keys)
		}
		key = keys[0]
	}

	if content, ok := cm.Data[key]; ok {
		return []byte(content), nil
	}
	if content, ok := cm.BinaryData[key]; ok {
		return content, nil
	}

	return nil, fmt.Errorf("ConfigMap %s/%s has no key %q", cm.Namespace, cm.Name, key)
}
