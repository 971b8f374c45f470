// Package biometric enrolls and verifies face templates against an external recognition engine.
//
// Security contract:
//   - Feature vectors are sealed with AES-256-GCM before they touch storage; only the
//     ciphertext, IV and tag are persisted, bound to "account:{id}|{modality}" as associated
//     data so a row copied to another account fails to open.
//   - Plaintext vectors are zeroed as soon as they are sealed or compared.
//   - Enrollment requires liveness >= LivenessThreshold; verification accepts iff
//     similarity >= VerifyThreshold.
//   - Every engine call runs under its own timeout and an engine error is a failure, never a
//     retry with stale data.
//   - Every enroll and verify attempt is audited, success or not.
package biometric
