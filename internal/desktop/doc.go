// Package desktop holds the collaborators that touch the user's desktop:
// the browser, notify-send and a console stand-in for the tray icon.
package desktop
