package runner

import (
	"github.com/marcuoli/go-privscan/pkg/privscan"
	"github.com/projectdiscovery/gologger"
)

const banner = `
            _                          
 _ __  _ __(_)_   _____  ___ __ _ _ __  
| '_ \| '__| \ \ / / __|/ __/ _' | '_ \ 
| |_) | |  | |\ V /\__ \ (_| (_| | | | |
| .__/|_|  |_| \_/ |___/\___\__,_|_| |_|
|_|
`

func showBanner() {
	gologger.Print().Msgf("%s\n", banner)
	gologger.Print().Msgf("\t\t%s\n\n", privscan.VersionInfo())
}
