// Package app wires the indicator together and runs it.
//
// Indicator owns the run loop: it restores the credential, starts the
// authorization flow when needed, and feeds poll results to the notification
// dispatcher and the tray. It depends on interfaces, not on concrete
// components; Build assembles the concrete ones from the configuration.
package app
