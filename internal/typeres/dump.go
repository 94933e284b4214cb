// ABOUTME: Produces member metadata dumps for resolved types.
// ABOUTME: Reports exported fields, method signatures, generic methods, and event names.

package typeres

import (
	"reflect"
	"sort"

	"github.com/marrowdev/marrow/internal/wire"
)

// eventNamer matches types that expose attachable events. Checked
// structurally so this package stays below the event bridge.
type eventNamer interface {
	EventNames() []string
}

// Dump resolves a type name and returns its member metadata: exported
// fields, method signatures, registered generic methods, and event names.
func (r *Resolver) Dump(name string) (wire.TypeDumpResponse, error) {
	desc, err := r.Resolve(name)
	if err != nil {
		return wire.TypeDumpResponse{}, err
	}

	out := wire.TypeDumpResponse{
		Name:   desc.Name,
		Module: desc.Module,
	}

	t := desc.Type
	out.Fields = dumpFields(t)
	out.Methods = dumpMethods(t)

	r.mu.RLock()
	if e, ok := r.byType[t]; ok {
		for gname, g := range e.generics {
			out.Methods = append(out.Methods, wire.MethodDump{
				Name:       gname,
				TypeParams: g.TypeParams,
			})
		}
		for fname := range e.staticFuncs {
			ft := e.staticFuncs[fname].Type()
			out.Methods = append(out.Methods, methodDumpFromFunc(fname, ft, 0))
		}
	}
	r.mu.RUnlock()

	sort.Slice(out.Methods, func(i, j int) bool { return out.Methods[i].Name < out.Methods[j].Name })

	if src, ok := reflect.New(deref(t)).Interface().(eventNamer); ok {
		out.Events = src.EventNames()
	}

	return out, nil
}

func deref(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

func dumpFields(t reflect.Type) []wire.FieldDump {
	st := deref(t)
	if st.Kind() != reflect.Struct {
		return nil
	}

	var fields []wire.FieldDump
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if !f.IsExported() {
			continue
		}
		fields = append(fields, wire.FieldDump{
			Name: f.Name,
			Type: TypeName(f.Type),
		})
	}
	return fields
}

func dumpMethods(t reflect.Type) []wire.MethodDump {
	// Methods with pointer receivers are only visible on the pointer type.
	pt := t
	if pt.Kind() != reflect.Pointer {
		pt = reflect.PointerTo(t)
	}

	var methods []wire.MethodDump
	for i := 0; i < pt.NumMethod(); i++ {
		m := pt.Method(i)
		// Skip the receiver in position 0.
		methods = append(methods, methodDumpFromFunc(m.Name, m.Type, 1))
	}
	return methods
}

func methodDumpFromFunc(name string, ft reflect.Type, skipIn int) wire.MethodDump {
	d := wire.MethodDump{Name: name}
	for i := skipIn; i < ft.NumIn(); i++ {
		d.Params = append(d.Params, TypeName(ft.In(i)))
	}
	for i := 0; i < ft.NumOut(); i++ {
		d.Returns = append(d.Returns, TypeName(ft.Out(i)))
	}
	return d
}
