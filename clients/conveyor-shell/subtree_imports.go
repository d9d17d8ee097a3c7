package main

// List all subpackages which implement `conveyor` commands here, in
// alphabetical order.

import _ "github.com/conveyor-ci/conveyor/clients/conveyor-shell/cmds/config"
import _ "github.com/conveyor-ci/conveyor/clients/conveyor-shell/cmds/session"
import _ "github.com/conveyor-ci/conveyor/clients/conveyor-shell/cmds/status"
import _ "github.com/conveyor-ci/conveyor/clients/conveyor-shell/cmds/version"
import _ "github.com/conveyor-ci/conveyor/clients/conveyor-shell/cmds/watch"
