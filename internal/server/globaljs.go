package server

import (
	"fmt"
	"net/http"
)

// handleClientJS serves the page script that reports behaviour signals
func (s *Server) handleClientJS(w http.ResponseWriter, r *http.Request) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	serverURL := fmt.Sprintf("%s://%s", scheme, r.Host)

	w.Header().Set("Content-Type", "application/javascript")
	w.Header().Set("Cache-Control", "public, max-age=60")
	w.Write([]byte(GenerateClientScript(serverURL)))
}

// GenerateClientScript generates gg.js for the given server URL. The script
// keeps the subject id in localStorage and the session id in
// sessionStorage, posts page views, scroll depth, pointer leaves and a
// one-second tick, and dispatches a "growthgoat:offer" DOM event when the
// server presents an offer.
func GenerateClientScript(serverURL string) string {
	return fmt.Sprintf(`(function(){
  var S='%s/api';
  var sid=localStorage.getItem('gg_sid');
  var ses=sessionStorage.getItem('gg_ses');
  var path=location.pathname;

  function post(p,body){
    return fetch(S+p,{method:'POST',headers:{'Content-Type':'application/json'},body:JSON.stringify(body||{}),keepalive:true})
      .then(function(r){return r.status===200||r.status===201?r.json():null})
      .catch(function(){return null});
  }

  function handle(res){
    if(res&&res.offer){
      document.dispatchEvent(new CustomEvent('growthgoat:offer',{detail:res.offer}));
    }
    return res;
  }

  function signal(kind,body){
    return post('/sessions/'+ses+'/'+kind,body).then(handle);
  }

  post('/sessions',{sessionId:ses||'',subjectId:sid||''}).then(function(res){
    if(!res)return;
    sid=res.subjectId;ses=res.sessionId;
    localStorage.setItem('gg_sid',sid);
    sessionStorage.setItem('gg_ses',ses);
    handle(res);
    signal('pageview',{path:path});

    var maxPct=0,pending=false;
    window.addEventListener('scroll',function(){
      var h=document.documentElement.scrollHeight-innerHeight;
      var pct=h>0?Math.min(100,Math.round(scrollY/h*100)):100;
      if(pct<=maxPct||pending)return;
      maxPct=pct;pending=true;
      setTimeout(function(){pending=false;signal('scroll',{path:path,percent:maxPct})},250);
    },{passive:true});

    document.addEventListener('mouseleave',function(e){
      signal('pointer-leave',{clientY:e.clientY,toElement:!!e.relatedTarget});
    });

    setInterval(function(){if(!document.hidden)signal('tick',{seconds:1})},1000);

    document.addEventListener('click',function(e){
      var el=e.target.closest('[data-gg-track]');
      if(el)post('/sessions/'+ses+'/interaction',{type:'click',element:el.getAttribute('data-gg-track'),value:''});
    });
  });

  window.growthgoat={
    subject:function(){return sid},
    session:function(){return ses},
    variant:function(exp){
      return fetch(S+'/experiments/'+encodeURIComponent(exp)+'/variant?subject='+encodeURIComponent(sid))
        .then(function(r){return r.ok?r.json():null});
    },
    expose:function(exp){return post('/experiments/'+encodeURIComponent(exp)+'/exposure',{subjectId:sid})},
    convert:function(exp,goal,value){
      return post('/experiments/'+encodeURIComponent(exp)+'/conversion',{subjectId:sid,goal:goal||'',value:value});
    },
    step:function(funnel,step,meta){
      return post('/funnels/'+encodeURIComponent(funnel)+'/steps',{stepId:step,userId:sid,sessionId:ses,metadata:meta});
    },
    acceptOffer:function(){return post('/sessions/'+ses+'/offer/accept')},
    closeOffer:function(){return post('/sessions/'+ses+'/offer/close')}
  };
})();
`, serverURL)
}
