// Short-lived cache for derived per-account facts (currently inactivity verdicts), so that
// repeated checks of the same account inside one sweep window do not hit the forge again.
//
// Values are strings; a miss is reported separately from an empty value.
package cachestore
