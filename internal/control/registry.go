package control

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-renderer/internal/soap"
)

// Notifier is told when a service's observable state changed.
type Notifier interface {
	Notify(topic string)
}

// NopNotifier discards notifications.
type NopNotifier struct{}

// Notify does nothing.
func (NopNotifier) Notify(string) {}

// Registry holds the declared services and dispatches decoded actions.
type Registry struct {
	mu       sync.RWMutex
	services []Service
	byType   map[string]map[string]*Action
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byType: make(map[string]map[string]*Action),
	}
}

// Register adds a service. Registering the same service type twice is a
// programming error.
func (r *Registry) Register(svc Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byType[svc.Type]; exists {
		return fmt.Errorf("service %s already registered", svc.Type)
	}

	actions := make(map[string]*Action, len(svc.Actions))
	for i := range svc.Actions {
		a := &svc.Actions[i]
		if a.Handler == nil {
			return fmt.Errorf("action %s#%s has no handler", svc.Type, a.Name)
		}
		actions[a.Name] = a
	}

	r.services = append(r.services, svc)
	r.byType[svc.Type] = actions

	log.Debug().Str("service", svc.Type).Int("actions", len(actions)).Msg("Registered UPnP service")
	return nil
}

// Services returns the registered services in registration order.
func (r *Registry) Services() []Service {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Service, len(r.services))
	copy(out, r.services)
	return out
}

// Lookup finds a service by its short name.
func (r *Registry) Lookup(name string) (Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.services {
		if s.Name == name {
			return s, true
		}
	}
	return Service{}, false
}

// Dispatch validates and executes a decoded action. Any error returned is
// meant to be converted with soap.FaultFor.
func (r *Registry) Dispatch(ctx context.Context, action *soap.Action) ([]soap.Argument, error) {
	r.mu.RLock()
	actions, ok := r.byType[action.ServiceType]
	var a *Action
	if ok {
		a = actions[action.Name]
	}
	r.mu.RUnlock()

	if a == nil {
		return nil, soap.InvalidAction(action.Name)
	}

	args := make(Args, len(a.In))
	for _, in := range a.In {
		value, present := action.Arg(in.Name)
		if !present {
			return nil, soap.InvalidArgs("missing argument %s", in.Name)
		}
		if in.Variable != nil {
			if err := in.Variable.Validate(value); err != nil {
				return nil, err
			}
		}
		args[in.Name] = value
	}

	results, err := a.Handler(ctx, args)
	if err != nil {
		return nil, err
	}

	if len(results) != len(a.Out) {
		return nil, soap.ActionFailed(fmt.Errorf("%s returned %d results, declared %d", a.Name, len(results), len(a.Out)))
	}
	for i, out := range a.Out {
		if results[i].Name != out.Name {
			return nil, soap.ActionFailed(fmt.Errorf("%s result %d is %s, declared %s", a.Name, i, results[i].Name, out.Name))
		}
	}
	return results, nil
}
