package kdf

import "fmt"

// Named cost profiles for different deployment scenarios.
const (
	ProfileNameInteractive = "interactive" // sub-second, dev/testing
	ProfileNameModerate    = "moderate"    // production default
	ProfileNameSensitive   = "sensitive"   // high-value secrets
)

// ProfileInteractive returns cost parameters tuned for interactive unlock
// on low-end devices.
func ProfileInteractive() Params {
	return Params{Algorithm: AlgorithmArgon2id, Time: 2, MemoryKiB: 19 * 1024, Parallelism: 1}
}

// ProfileModerate returns the production default cost parameters.
func ProfileModerate() Params {
	return Params{Algorithm: AlgorithmArgon2id, Time: 3, MemoryKiB: 64 * 1024, Parallelism: 4}
}

// ProfileSensitive returns cost parameters for high-value secrets.
func ProfileSensitive() Params {
	return Params{Algorithm: AlgorithmArgon2id, Time: 4, MemoryKiB: 128 * 1024, Parallelism: 4}
}

// Profile returns the parameters for a named profile. The returned Params
// carry no salt; NewParams(WithProfile(p)) generates one.
func Profile(name string) (Params, error) {
	switch name {
	case ProfileNameInteractive:
		return ProfileInteractive(), nil
	case ProfileNameModerate:
		return ProfileModerate(), nil
	case ProfileNameSensitive:
		return ProfileSensitive(), nil
	default:
		return Params{}, fmt.Errorf("unknown KDF profile %q", name)
	}
}
