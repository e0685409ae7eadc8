package compliance

import "context"

// Inspector is the cloud resource inspector consumed by checks: a set of
// idempotent, read-only probes. Implementations must be safe for concurrent
// use.
type Inspector interface {
	// IsEncrypted reports whether the resource has encryption at rest.
	IsEncrypted(ctx context.Context, resource string) (bool, string, error)

	// HasRotationEnabled reports whether the resource's key material rotates.
	HasRotationEnabled(ctx context.Context, resource string) (bool, string, error)

	// IsVersioned reports whether the resource retains prior versions.
	IsVersioned(ctx context.Context, resource string) (bool, string, error)

	// IsPubliclyAccessible reports whether the resource is reachable without
	// credentials. A true result is a finding, not an error.
	IsPubliclyAccessible(ctx context.Context, resource string) (bool, string, error)
}

// StandardChecks builds the default check set over an inspector for the
// given resources. Control ids follow the mapped policy catalog.
func StandardChecks(inspector Inspector, resources []string) []Check {
	var checks []Check
	for _, res := range resources {
		res := res
		checks = append(checks,
			Check{
				ControlID: "SC-13",
				Name:      "encryption-at-rest:" + res,
				Probe: func(ctx context.Context) (Status, string, string, error) {
					ok, ref, err := inspector.IsEncrypted(ctx, res)
					if err != nil {
						return "", "", ref, err
					}
					if !ok {
						return StatusFail, "resource is not encrypted at rest", ref, nil
					}
					return StatusPass, "encryption at rest enabled", ref, nil
				},
			},
			Check{
				ControlID: "SC-12",
				Name:      "key-rotation:" + res,
				Probe: func(ctx context.Context) (Status, string, string, error) {
					ok, ref, err := inspector.HasRotationEnabled(ctx, res)
					if err != nil {
						return "", "", ref, err
					}
					if !ok {
						return StatusWarning, "key rotation not enabled", ref, nil
					}
					return StatusPass, "key rotation enabled", ref, nil
				},
			},
			Check{
				ControlID: "CP-10",
				Name:      "versioning:" + res,
				Probe: func(ctx context.Context) (Status, string, string, error) {
					ok, ref, err := inspector.IsVersioned(ctx, res)
					if err != nil {
						return "", "", ref, err
					}
					if !ok {
						return StatusWarning, "versioning disabled", ref, nil
					}
					return StatusPass, "versioning enabled", ref, nil
				},
			},
			Check{
				ControlID: "AC-3",
				Name:      "public-access:" + res,
				Probe: func(ctx context.Context) (Status, string, string, error) {
					public, ref, err := inspector.IsPubliclyAccessible(ctx, res)
					if err != nil {
						return "", "", ref, err
					}
					if public {
						return StatusFail, "resource is publicly accessible", ref, nil
					}
					return StatusPass, "public access blocked", ref, nil
				},
			},
		)
	}
	return checks
}

// StaticInspector is a fixture-backed Inspector for development and tests.
type StaticInspector struct {
	Encrypted map[string]bool
	Rotating  map[string]bool
	Versioned map[string]bool
	Public    map[string]bool
}

func (s *StaticInspector) IsEncrypted(ctx context.Context, resource string) (bool, string, error) {
	return s.Encrypted[resource], resource, nil
}

func (s *StaticInspector) HasRotationEnabled(ctx context.Context, resource string) (bool, string, error) {
	return s.Rotating[resource], resource, nil
}

func (s *StaticInspector) IsVersioned(ctx context.Context, resource string) (bool, string, error) {
	return s.Versioned[resource], resource, nil
}

func (s *StaticInspector) IsPubliclyAccessible(ctx context.Context, resource string) (bool, string, error) {
	return s.Public[resource], resource, nil
}
