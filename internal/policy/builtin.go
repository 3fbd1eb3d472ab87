package policy

// builtinPolicies returns the guardrail's default Rego policies.
func builtinPolicies() []compiledPolicy {
	return []compiledPolicy{
		{name: "protected-paths", module: protectedPathsPolicy},
		{name: "package-removal", module: packageRemovalPolicy},
	}
}

// protectedPathsPolicy denies force-replacing a link or template under a
// small set of paths that are never safe to overwrite unattended.
const protectedPathsPolicy = `package keron.policies.protected_paths

import rego.v1

protected := ["/etc", "/boot", "/usr"]

deny contains msg if {
	input.force
	some prefix in protected
	startswith(input.dest, prefix)
	msg := sprintf("refusing force-replace under protected path %s", [input.dest])
}
`

// packageRemovalPolicy denies package removal operations outright. Each
// policy is evaluated on its own and a denial from any of them wins, so a
// policy added with Guardrail.LoadFile cannot lift this denial.
const packageRemovalPolicy = `package keron.policies.package_removal

import rego.v1

deny contains msg if {
	input.kind == "package"
	input.package_state == "absent"
	msg := sprintf("package removal via %s requires an explicit policy override", [input.manager])
}
`
