// Package kube reads and patches the cluster objects a release depends on.
package kube

import (
	"context"
	"fmt"
	"net"
	"strconv"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/waabox/bgrelease/internal/domain"
)

// Client wraps a clientset scoped to one namespace.
type Client struct {
	cs        kubernetes.Interface
	namespace string
}

// New creates a Client for namespace.
func New(cs kubernetes.Interface, namespace string) *Client {
	return &Client{cs: cs, namespace: namespace}
}

// NewFromKubeconfig loads the kubeconfig the way kubectl does: explicit path, then
// $KUBECONFIG, then ~/.kube/config. An empty context uses the current one.
func NewFromKubeconfig(path, kubeContext, namespace string) (*Client, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if path != "" {
		rules.ExplicitPath = path
	}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: kubeContext}
	restCfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("loading kubeconfig: %w", err)
	}
	cs, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("creating kubernetes client: %w", err)
	}
	return New(cs, namespace), nil
}

// Namespace returns the namespace the client works in.
func (c *Client) Namespace() string {
	return c.namespace
}

// EnsureNamespace creates the namespace unless it exists.
func (c *Client) EnsureNamespace(ctx context.Context) error {
	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{
		Name:   c.namespace,
		Labels: map[string]string{"app.kubernetes.io/managed-by": "bgrelease"},
	}}
	_, err := c.cs.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{})
	if err != nil && !apierrors.IsAlreadyExists(err) {
		return fmt.Errorf("creating namespace %s: %w", c.namespace, classify(err))
	}
	return nil
}

// DeleteNamespace deletes the namespace; a missing namespace is not an error.
func (c *Client) DeleteNamespace(ctx context.Context) error {
	err := c.cs.CoreV1().Namespaces().Delete(ctx, c.namespace, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("deleting namespace %s: %w", c.namespace, classify(err))
	}
	return nil
}

// ExposeService switches a ClusterIP service to mode. Services already exposed some
// other way are left alone. patched reports whether a patch was sent.
func (c *Client) ExposeService(ctx context.Context, name string, mode domain.ExposureMode) (patched bool, err error) {
	svc, err := c.cs.CoreV1().Services(c.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return false, fmt.Errorf("reading service %s: %w", name, classify(err))
	}
	if svc.Spec.Type != corev1.ServiceTypeClusterIP || mode == domain.ExposureClusterIP {
		return false, nil
	}
	patch := []byte(fmt.Sprintf(`{"spec":{"type":%q}}`, string(mode)))
	if _, err := c.cs.CoreV1().Services(c.namespace).Patch(ctx, name, types.MergePatchType, patch, metav1.PatchOptions{}); err != nil {
		return false, fmt.Errorf("patching service %s to %s: %w", name, mode, classify(err))
	}
	return true, nil
}

// ServiceEndpoint returns the externally reachable http URL of a service: the node
// address and node port for NodePort services, the load balancer ingress for
// LoadBalancer services, falling back to nodeAddress and the node port when no ingress
// is assigned. present is false until an address is known. An empty nodeAddress picks
// the first node's address for NodePort services only.
func (c *Client) ServiceEndpoint(ctx context.Context, name, nodeAddress string) (string, bool, error) {
	svc, err := c.cs.CoreV1().Services(c.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return "", false, fmt.Errorf("reading service %s: %w", name, classify(err))
	}
	if len(svc.Spec.Ports) == 0 {
		return "", false, fmt.Errorf("service %s exposes no ports: %w", name, domain.ErrConfiguration)
	}
	port := svc.Spec.Ports[0]

	switch svc.Spec.Type {
	case corev1.ServiceTypeNodePort:
		if port.NodePort == 0 {
			return "", false, nil
		}
		if nodeAddress == "" {
			nodeAddress, err = c.firstNodeAddress(ctx)
			if err != nil || nodeAddress == "" {
				return "", false, err
			}
		}
		return httpURL(nodeAddress, port.NodePort), true, nil
	case corev1.ServiceTypeLoadBalancer:
		for _, ing := range svc.Status.LoadBalancer.Ingress {
			host := ing.Hostname
			if host == "" {
				host = ing.IP
			}
			if host != "" {
				return httpURL(host, port.Port), true, nil
			}
		}
		// Without a load balancer controller (minikube without a tunnel) the ingress
		// never appears, but the node port still answers.
		if nodeAddress != "" && port.NodePort != 0 {
			return httpURL(nodeAddress, port.NodePort), true, nil
		}
		return "", false, nil
	default:
		return "", false, nil
	}
}

func (c *Client) firstNodeAddress(ctx context.Context) (string, error) {
	nodes, err := c.cs.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("listing nodes: %w", classify(err))
	}
	for _, want := range []corev1.NodeAddressType{corev1.NodeExternalIP, corev1.NodeInternalIP} {
		for _, n := range nodes.Items {
			for _, a := range n.Status.Addresses {
				if a.Type == want && a.Address != "" {
					return a.Address, nil
				}
			}
		}
	}
	return "", nil
}

func httpURL(host string, port int32) string {
	return "http://" + net.JoinHostPort(host, strconv.Itoa(int(port)))
}

// PodReadiness reports whether the first pod matching selector has a ready main
// container, with the pod phase as detail while it is not.
func (c *Client) PodReadiness(ctx context.Context, selector string) (domain.Readiness, error) {
	pods, err := c.cs.CoreV1().Pods(c.namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return domain.Readiness{}, fmt.Errorf("listing pods %s: %w", selector, classify(err))
	}
	if len(pods.Items) == 0 {
		return domain.Readiness{Detail: "no pod matching " + selector + " yet"}, nil
	}
	pod := pods.Items[0]
	if len(pod.Status.ContainerStatuses) > 0 && pod.Status.ContainerStatuses[0].Ready {
		return domain.Readiness{Ready: true, Detail: fmt.Sprintf("pod %s ready", pod.Name)}, nil
	}
	detail := fmt.Sprintf("pod %s in phase %s, not ready", pod.Name, pod.Status.Phase)
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.State.Waiting != nil && cs.State.Waiting.Reason != "" {
			detail += fmt.Sprintf(" (%s: %s)", cs.Name, cs.State.Waiting.Reason)
			break
		}
	}
	return domain.Readiness{Detail: detail}, nil
}

// ReadSecret returns one key of a secret.
func (c *Client) ReadSecret(ctx context.Context, name, key string) (string, error) {
	secret, err := c.cs.CoreV1().Secrets(c.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("reading secret %s: %w", name, classify(err))
	}
	v, ok := secret.Data[key]
	if !ok {
		return "", fmt.Errorf("secret %s has no key %s: %w", name, key, domain.ErrNotFound)
	}
	return string(v), nil
}

// classify maps API errors onto the domain taxonomy so waits treat them correctly.
func classify(err error) error {
	switch {
	case apierrors.IsNotFound(err):
		return fmt.Errorf("%v: %w", err, domain.ErrNotFound)
	case apierrors.IsServiceUnavailable(err), apierrors.IsTimeout(err), apierrors.IsServerTimeout(err), apierrors.IsTooManyRequests(err):
		return fmt.Errorf("%v: %w", err, domain.ErrUnavailable)
	case apierrors.IsUnauthorized(err), apierrors.IsForbidden(err):
		return fmt.Errorf("%v: %w", err, domain.ErrUnauthorized)
	}
	return err
}
