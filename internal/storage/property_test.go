package storage

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"workflow_tracker/internal/fragment"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestMergeCommutesAcrossKinds checks that merging fragments of distinct kinds
// yields the same record whatever the arrival order.
func TestMergeCommutesAcrossKinds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("merge order does not matter", prop.ForAll(
		func(a, b string) bool {
			ctx := context.Background()
			pa := []byte(fmt.Sprintf("%q", a))
			pb := []byte(fmt.Sprintf("%q", b))

			forward := NewMemoryStore(Options{Delivery: DeliverRepeatable})
			_ = forward.Merge(ctx, "s", fragment.KindContent, pa)
			_ = forward.Merge(ctx, "s", fragment.KindGuidance, pb)

			backward := NewMemoryStore(Options{Delivery: DeliverRepeatable})
			_ = backward.Merge(ctx, "s", fragment.KindGuidance, pb)
			_ = backward.Merge(ctx, "s", fragment.KindContent, pa)

			x, err1 := forward.Status(ctx, "s")
			y, err2 := backward.Status(ctx, "s")
			if err1 != nil || err2 != nil {
				return false
			}
			return x.State == StateComplete &&
				string(x.Payload[fragment.KindContent]) == string(y.Payload[fragment.KindContent]) &&
				string(x.Payload[fragment.KindGuidance]) == string(y.Payload[fragment.KindGuidance]) &&
				len(x.Held) == 2 && len(y.Held) == 2
		},
		gen.AnyString(),
		gen.AnyString(),
	))

	properties.Property("partial until every required kind is held", prop.ForAll(
		func(kinds []string) bool {
			ctx := context.Background()
			store := NewMemoryStore(Options{Predicate: contentAndGuidance, Delivery: DeliverRepeatable})

			haveContent, haveGuidance := false, false
			for _, k := range kinds {
				kind := fragment.Kind(k)
				if err := store.Merge(ctx, "s", kind, []byte(`{}`)); err != nil {
					return false
				}
				haveContent = haveContent || kind == fragment.KindContent
				haveGuidance = haveGuidance || kind == fragment.KindGuidance
			}

			st, err := store.Status(ctx, "s")
			if err != nil {
				return false
			}
			switch {
			case len(kinds) == 0:
				return st.State == StateNotFound
			case haveContent && haveGuidance:
				return st.State == StateComplete
			default:
				return st.State == StatePartial
			}
		},
		gen.SliceOf(gen.OneConstOf("content", "guidance", "hashtags", "summary"), reflect.TypeOf("")),
	))

	properties.TestingRun(t)
}
