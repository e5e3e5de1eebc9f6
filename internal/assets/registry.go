// Package assets is the session registry of models and products that frame
// generation references.
package assets

import (
	"fmt"
	"strings"
	"sync"

	"adstudio/internal/storyboard"
)

// Registry stores entities by value; callers never share slices with it.
// Names are unique case-insensitively; registering an existing name replaces it.
type Registry struct {
	mu       sync.RWMutex
	models   []storyboard.Model
	products []storyboard.Product
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) AddModel(m storyboard.Model) error {
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		return fmt.Errorf("model name is empty")
	}
	if strings.TrimSpace(m.SheetImage) == "" {
		return fmt.Errorf("model %q has no character sheet", m.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.models {
		if strings.EqualFold(r.models[i].Name, m.Name) {
			r.models[i] = m
			return nil
		}
	}
	r.models = append(r.models, m)
	return nil
}

func (r *Registry) AddProduct(p storyboard.Product) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return fmt.Errorf("product name is empty")
	}
	if len(p.Images) == 0 {
		return fmt.Errorf("product %q has no images", p.Name)
	}
	p.Images = append([]string(nil), p.Images...)

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.products {
		if strings.EqualFold(r.products[i].Name, p.Name) {
			r.products[i] = p
			return nil
		}
	}
	r.products = append(r.products, p)
	return nil
}

func (r *Registry) Models() []storyboard.Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]storyboard.Model(nil), r.models...)
}

func (r *Registry) Products() []storyboard.Product {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]storyboard.Product, len(r.products))
	for i, p := range r.products {
		p.Images = append([]string(nil), p.Images...)
		out[i] = p
	}
	return out
}

// Model looks a model up by name; an empty name selects the first one.
func (r *Registry) Model(name string) (storyboard.Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.models {
		if name == "" || strings.EqualFold(m.Name, strings.TrimSpace(name)) {
			return m, true
		}
	}
	return storyboard.Model{}, false
}

// Product looks a product up by name; an empty name selects the first one.
func (r *Registry) Product(name string) (storyboard.Product, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.products {
		if name == "" || strings.EqualFold(p.Name, strings.TrimSpace(name)) {
			p.Images = append([]string(nil), p.Images...)
			return p, true
		}
	}
	return storyboard.Product{}, false
}

func (r *Registry) Counts() (models, products int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models), len(r.products)
}
