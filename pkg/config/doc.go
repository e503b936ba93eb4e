/*
Package config loads and validates daemon configuration.

Settings come from three layers in increasing precedence: built-in
defaults, an optional YAML file and command-line flags. The Config struct
is plain data; cmd/vboxwrapper performs the merge.
*/
package config
