package kube_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/waabox/bgrelease/internal/domain"
	"github.com/waabox/bgrelease/internal/infra/kube"
)

const ns = "blue-green-demo"

func service(name string, typ corev1.ServiceType, port, nodePort int32) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: ns},
		Spec: corev1.ServiceSpec{
			Type:  typ,
			Ports: []corev1.ServicePort{{Port: port, NodePort: nodePort}},
		},
	}
}

func newClient(objects ...runtime.Object) (*kube.Client, *fake.Clientset) {
	cs := fake.NewSimpleClientset(objects...)
	return kube.New(cs, ns), cs
}

func TestEnsureNamespace_Idempotent(t *testing.T) {
	c, cs := newClient()
	ctx := context.Background()

	require.NoError(t, c.EnsureNamespace(ctx))
	require.NoError(t, c.EnsureNamespace(ctx))

	got, err := cs.CoreV1().Namespaces().Get(ctx, ns, metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "bgrelease", got.Labels["app.kubernetes.io/managed-by"])

	require.NoError(t, c.DeleteNamespace(ctx))
	require.NoError(t, c.DeleteNamespace(ctx))
}

func TestExposeService_PatchesClusterIPOnly(t *testing.T) {
	c, cs := newClient(
		service("jenkins", corev1.ServiceTypeClusterIP, 8080, 0),
		service("already", corev1.ServiceTypeLoadBalancer, 80, 0),
	)
	ctx := context.Background()

	patched, err := c.ExposeService(ctx, "jenkins", domain.ExposureNodePort)
	require.NoError(t, err)
	assert.True(t, patched)
	svc, err := cs.CoreV1().Services(ns).Get(ctx, "jenkins", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, corev1.ServiceTypeNodePort, svc.Spec.Type)

	patched, err = c.ExposeService(ctx, "jenkins", domain.ExposureNodePort)
	require.NoError(t, err)
	assert.False(t, patched)

	patched, err = c.ExposeService(ctx, "already", domain.ExposureNodePort)
	require.NoError(t, err)
	assert.False(t, patched)
}

func TestExposeService_MissingServiceIsNotFound(t *testing.T) {
	c, _ := newClient()
	_, err := c.ExposeService(context.Background(), "jenkins", domain.ExposureNodePort)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestServiceEndpoint(t *testing.T) {
	lb := service("lb", corev1.ServiceTypeLoadBalancer, 80, 31000)
	lb.Status.LoadBalancer.Ingress = []corev1.LoadBalancerIngress{{Hostname: "abc.elb.amazonaws.com"}}
	node := &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: "minikube"},
		Status: corev1.NodeStatus{Addresses: []corev1.NodeAddress{
			{Type: corev1.NodeHostName, Address: "minikube"},
			{Type: corev1.NodeInternalIP, Address: "192.168.49.2"},
		}},
	}
	c, _ := newClient(
		service("jenkins", corev1.ServiceTypeNodePort, 8080, 32000),
		service("pending-np", corev1.ServiceTypeNodePort, 8080, 0),
		service("internal", corev1.ServiceTypeClusterIP, 8080, 0),
		service("pending-lb", corev1.ServiceTypeLoadBalancer, 80, 0),
		service("lb-no-tunnel", corev1.ServiceTypeLoadBalancer, 80, 31080),
		lb, node,
	)
	ctx := context.Background()

	tests := []struct {
		name        string
		nodeAddress string
		want        string
		present     bool
	}{
		{name: "jenkins", nodeAddress: "10.0.0.5", want: "http://10.0.0.5:32000", present: true},
		{name: "jenkins", nodeAddress: "", want: "http://192.168.49.2:32000", present: true},
		{name: "pending-np", nodeAddress: "10.0.0.5"},
		{name: "internal"},
		{name: "pending-lb"},
		{name: "pending-lb", nodeAddress: "192.168.49.2"},
		{name: "lb-no-tunnel", nodeAddress: "192.168.49.2", want: "http://192.168.49.2:31080", present: true},
		{name: "lb-no-tunnel"},
		{name: "lb", nodeAddress: "192.168.49.2", want: "http://abc.elb.amazonaws.com:80", present: true},
		{name: "lb", want: "http://abc.elb.amazonaws.com:80", present: true},
	}
	for _, tt := range tests {
		t.Run(tt.name+"/"+tt.nodeAddress, func(t *testing.T) {
			got, present, err := c.ServiceEndpoint(ctx, tt.name, tt.nodeAddress)
			require.NoError(t, err)
			assert.Equal(t, tt.present, present)
			assert.Equal(t, tt.want, got)
		})
	}

	_, _, err := c.ServiceEndpoint(ctx, "missing", "")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPodReadiness(t *testing.T) {
	selector := "app.kubernetes.io/component=jenkins-controller"
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "jenkins-0",
			Namespace: ns,
			Labels:    map[string]string{"app.kubernetes.io/component": "jenkins-controller"},
		},
		Status: corev1.PodStatus{
			Phase: corev1.PodPending,
			ContainerStatuses: []corev1.ContainerStatus{{
				Name:  "jenkins",
				State: corev1.ContainerState{Waiting: &corev1.ContainerStateWaiting{Reason: "ContainerCreating"}},
			}},
		},
	}
	c, cs := newClient()
	ctx := context.Background()

	r, err := c.PodReadiness(ctx, selector)
	require.NoError(t, err)
	assert.False(t, r.Ready)
	assert.Contains(t, r.Detail, "no pod")

	_, err = cs.CoreV1().Pods(ns).Create(ctx, pod, metav1.CreateOptions{})
	require.NoError(t, err)
	r, err = c.PodReadiness(ctx, selector)
	require.NoError(t, err)
	assert.False(t, r.Ready)
	assert.Contains(t, r.Detail, "Pending")
	assert.Contains(t, r.Detail, "ContainerCreating")

	pod.Status = corev1.PodStatus{
		Phase:             corev1.PodRunning,
		ContainerStatuses: []corev1.ContainerStatus{{Name: "jenkins", Ready: true}},
	}
	_, err = cs.CoreV1().Pods(ns).UpdateStatus(ctx, pod, metav1.UpdateOptions{})
	require.NoError(t, err)
	r, err = c.PodReadiness(ctx, selector)
	require.NoError(t, err)
	assert.True(t, r.Ready)
}

func TestReadSecret(t *testing.T) {
	c, _ := newClient(&corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: "jenkins", Namespace: ns},
		Data:       map[string][]byte{"jenkins-admin-password": []byte("s3cret")},
	})
	ctx := context.Background()

	got, err := c.ReadSecret(ctx, "jenkins", "jenkins-admin-password")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got)

	_, err = c.ReadSecret(ctx, "jenkins", "other")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = c.ReadSecret(ctx, "missing", "jenkins-admin-password")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
